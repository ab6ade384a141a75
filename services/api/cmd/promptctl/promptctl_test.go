package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("IMAGE_HOST", "memory")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("LOGIN_RATE_LIMIT_PER_MINUTE", "0")
	t.Setenv("ANON_TOKEN_RATE_LIMIT_PER_MINUTE", "0")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckDB(t *testing.T) {
	memoryEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	out, err := run(t, "check-db")
	if err != nil {
		t.Fatalf("check-db: %v", err)
	}
	if !strings.Contains(out, "store (memory): ok") || !strings.Contains(out, "redis ("+mr.Addr()+"): ok") {
		t.Fatalf("unexpected output %q", out)
	}

	mr.Close()
	if _, err := run(t, "check-db"); err == nil {
		t.Fatalf("expected check-db to fail once redis is gone")
	}
}

func TestSeedSuperAdmin(t *testing.T) {
	memoryEnv(t)

	if _, err := run(t, "seed-superadmin", "--username", "", "--password", ""); err == nil {
		t.Fatalf("expected missing flags to fail")
	}
	out, err := run(t, "seed-superadmin", "--username", "root", "--password", "root-password-1")
	if err != nil {
		t.Fatalf("seed-superadmin: %v", err)
	}
	if !strings.Contains(out, `super admin "root" created`) {
		t.Fatalf("unexpected output %q", out)
	}
}
