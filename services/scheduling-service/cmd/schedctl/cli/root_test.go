package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "schedctl dev") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMigrateList(t *testing.T) {
	out, err := run(t, "migrate", "--list")
	if err != nil {
		t.Fatalf("migrate --list: %v", err)
	}
	if !strings.Contains(out, "0001_init.sql") || !strings.Contains(out, "0002_events.sql") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTokenMintsVerifiableJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out, err := run(t, "token", "--sub", "prov-9", "--role", "provider")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(out), "cli-secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Sub != "prov-9" || claims.Role != "provider" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := run(t, "token", "--sub", "x", "--role", "root"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
