package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("SKILLLY_TEST_STR", "  value  ")
	if got := EnvString("SKILLLY_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q want value", got)
	}
	if got := EnvString("SKILLLY_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q want def", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SKILLLY_TEST_BOOL", "true")
	if !EnvBool("SKILLLY_TEST_BOOL", false) {
		t.Fatal("EnvBool=false want true")
	}
	t.Setenv("SKILLLY_TEST_BOOL", "not-a-bool")
	if !EnvBool("SKILLLY_TEST_BOOL", true) {
		t.Fatal("invalid value did not fall back to default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SKILLLY_TEST_INT", "42")
	if got := EnvInt("SKILLLY_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt=%d want 42", got)
	}
	t.Setenv("SKILLLY_TEST_INT", "-5")
	if got := EnvInt("SKILLLY_TEST_INT", 7); got != 7 {
		t.Fatalf("negative accepted: %d", got)
	}
	t.Setenv("SKILLLY_TEST_INT", "zzz")
	if got := EnvInt("SKILLLY_TEST_INT", 7); got != 7 {
		t.Fatalf("garbage accepted: %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("SKILLLY_TEST_DUR", "250ms")
	if got := EnvDuration("SKILLLY_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v want 250ms", got)
	}
	t.Setenv("SKILLLY_TEST_DUR", "-1s")
	if got := EnvDuration("SKILLLY_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("negative accepted: %v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr == "" || cfg.LogLevel == "" || cfg.LogFormat == "" {
		t.Fatalf("empty defaults: %+v", cfg)
	}
	if cfg.DBSchema != "skillly" {
		t.Fatalf("DBSchema=%q want skillly", cfg.DBSchema)
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.MaxHeaderBytes <= 0 {
		t.Fatalf("non-positive http defaults: %+v", cfg)
	}
}
