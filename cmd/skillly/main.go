package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/app"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/chat"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/storage"
	"github.com/jean-bernard-laguerre/skillly-sub000/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	userID := app.EnvString("SKILLLY_USER_ID", "")
	if userID == "" {
		return fmt.Errorf("SKILLLY_USER_ID is required")
	}
	serverURL := app.EnvString("SKILLLY_SERVER_URL", "http://127.0.0.1:8080")

	kv, closeKV, err := openKV()
	if err != nil {
		return err
	}
	defer closeKV()

	log := app.NewLogger(
		app.EnvString("SKILLLY_LOG_LEVEL", "warn"),
		app.EnvString("SKILLLY_LOG_FORMAT", "json"),
	)

	sess, err := chat.NewSession(log, kv, chat.Config{
		BaseURL: serverURL,
		UserID:  userID,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	rooms := parseRooms(app.EnvString("SKILLLY_ROOMS", ""))
	if len(rooms) > 0 {
		if err := sess.Unread().Initialize(context.Background(), rooms); err != nil {
			return fmt.Errorf("seed conversations: %w", err)
		}
	}

	if err := sess.Start(context.Background()); err != nil {
		return err
	}

	program := tea.NewProgram(tui.New(sess, userID, rooms), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// openKV picks the local state backend: Postgres when
// SKILLLY_DATABASE_URL is set, otherwise per-profile files.
func openKV() (storage.KV, func(), error) {
	if dbURL := app.EnvString("SKILLLY_DATABASE_URL", ""); dbURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		kv, err := storage.NewPostgresKV(pool,
			storage.WithSchema(app.EnvString("SKILLLY_DB_SCHEMA", "skillly")))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return kv, pool.Close, nil
	}

	profile := app.EnvString("SKILLLY_PROFILE", "default")
	dir, err := storage.DefaultDir(profile)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve state dir: %w", err)
	}
	kv, err := storage.NewFileKV(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open state dir: %w", err)
	}
	return kv, func() { _ = kv.Close() }, nil
}

// parseRooms reads a "id:name,id:name" conversation seed. The name part
// is optional.
func parseRooms(raw string) []v1.RoomSummary {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []v1.RoomSummary
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, _ := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, v1.RoomSummary{ID: id, Name: strings.TrimSpace(name)})
	}
	return out
}
