package main

import (
	"log"

	"github.com/jean-bernard-laguerre/skillly-sub000/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
