package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDurationAcceptsSecondsAndGoSyntax(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "90")
	if got := Duration("SWEEP_INTERVAL", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	t.Setenv("SWEEP_INTERVAL", "2m")
	if got := Duration("SWEEP_INTERVAL", time.Minute); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}
	t.Setenv("SWEEP_INTERVAL", "soon")
	if got := Duration("SWEEP_INTERVAL", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestIntAndBoolFallbacks(t *testing.T) {
	t.Setenv("RATE_PER_MINUTE_CENTS", "-5")
	if got := Int("RATE_PER_MINUTE_CENTS", 200); got != 200 {
		t.Fatalf("expected fallback for negative value, got %d", got)
	}
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "off")
	if Bool("RATE_LIMIT_FAIL_OPEN", true) {
		t.Fatal("expected off to parse as false")
	}
	if !Bool("UNSET_FLAG_FOR_TEST", true) {
		t.Fatal("expected fallback true for unset flag")
	}
}

func TestPortRejectsOutOfRange(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("DOTENV_FRESH=from-file\nDOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOTENV_SET", "from-env")
	t.Setenv("DOTENV_FRESH", "")
	os.Unsetenv("DOTENV_FRESH")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := String("DOTENV_FRESH", ""); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := String("DOTENV_SET", ""); got != "from-env" {
		t.Fatalf("existing value should win, got %q", got)
	}
}

func TestListSkipsBlanks(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	got := List("CORS_ALLOWED_ORIGINS")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected list %v", got)
	}
	if List("UNSET_LIST_KEY") != nil {
		t.Fatal("expected nil for unset key")
	}
}
