package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/storage/postgres"
)

type stubMigrator struct {
	state    postgres.MigrationState
	upErr    error
	up       []int
	down     []int
	closed   bool
	statusOK bool
}

func (s *stubMigrator) MigrateUp(_ context.Context, steps int) error {
	s.up = append(s.up, steps)
	return s.upErr
}

func (s *stubMigrator) MigrateDown(_ context.Context, steps int) error {
	s.down = append(s.down, steps)
	return nil
}

func (s *stubMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	s.statusOK = true
	return s.state, nil
}

func (s *stubMigrator) Close() error {
	s.closed = true
	return nil
}

func withStubMigrator(t *testing.T, stub *stubMigrator) *string {
	t.Helper()

	var gotDSN string
	old := openMigrator
	openMigrator = func(_ context.Context, dsn string) (migrator, error) {
		gotDSN = dsn
		return stub, nil
	}
	t.Cleanup(func() { openMigrator = old })
	return &gotDSN
}

func TestRun_Directions(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantUp   []int
		wantDown []int
		wantOut  string
	}{
		{name: "default up", args: []string{"-dsn=postgres://x"}, wantUp: []int{0}, wantOut: "migrate up ok: version=2 applied=2 pending=0\n"},
		{name: "up steps", args: []string{"-dsn=postgres://x", "-steps=1"}, wantUp: []int{1}, wantOut: "migrate up ok"},
		{name: "down", args: []string{"-dsn=postgres://x", "-direction=DOWN", "-steps=2"}, wantDown: []int{2}, wantOut: "migrate down ok"},
		{name: "status", args: []string{"-dsn=postgres://x", "-direction=status"}, wantOut: "migration status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubMigrator{state: postgres.MigrationState{Version: 2, Applied: 2}}
			gotDSN := withStubMigrator(t, stub)

			var out bytes.Buffer
			if err := run(context.Background(), tt.args, &out); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if *gotDSN != "postgres://x" {
				t.Fatalf("unexpected dsn %q", *gotDSN)
			}
			if len(stub.up) != len(tt.wantUp) || len(stub.down) != len(tt.wantDown) {
				t.Fatalf("unexpected calls: up=%v down=%v", stub.up, stub.down)
			}
			for i := range tt.wantUp {
				if stub.up[i] != tt.wantUp[i] {
					t.Fatalf("unexpected up steps: %v", stub.up)
				}
			}
			for i := range tt.wantDown {
				if stub.down[i] != tt.wantDown[i] {
					t.Fatalf("unexpected down steps: %v", stub.down)
				}
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Fatalf("unexpected output %q", out.String())
			}
			if !stub.closed || !stub.statusOK {
				t.Fatalf("store must be queried and closed: %+v", stub)
			}
		})
	}
}

func TestRun_DSNFromEnv(t *testing.T) {
	t.Setenv(envPostgresDSN, " postgres://env ")
	gotDSN := withStubMigrator(t, &stubMigrator{})

	if err := run(context.Background(), []string{"-direction=status"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if *gotDSN != "postgres://env" {
		t.Fatalf("unexpected dsn %q", *gotDSN)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stub    *stubMigrator
		wantErr string
	}{
		{name: "missing dsn", args: []string{"-direction=status"}, stub: &stubMigrator{}, wantErr: "is required"},
		{name: "bad direction", args: []string{"-direction=sideways", "-dsn=x"}, stub: &stubMigrator{}, wantErr: "unsupported direction"},
		{name: "bad flag", args: []string{"-nope"}, stub: &stubMigrator{}, wantErr: "flag provided but not defined"},
		{name: "up failure", args: []string{"-dsn=x"}, stub: &stubMigrator{upErr: errors.New("syntax error")}, wantErr: "migrate up failed: syntax error"},
		{name: "drift", args: []string{"-dsn=x", "-direction=status"}, stub: &stubMigrator{state: postgres.MigrationState{Version: 2, Applied: 2, Drifted: []int64{2}}}, wantErr: "differs from embedded file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envPostgresDSN, "")
			withStubMigrator(t, tt.stub)

			err := run(context.Background(), tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFormatState(t *testing.T) {
	if got := formatState(postgres.MigrationState{Version: 1, Applied: 1}); got != "version=1 applied=1 pending=0" {
		t.Fatalf("unexpected state line %q", got)
	}
	if got := formatState(postgres.MigrationState{Version: 2, Applied: 2, Drifted: []int64{1, 2}}); got != "version=2 applied=2 pending=0 drifted=[1 2]" {
		t.Fatalf("unexpected state line %q", got)
	}
}

func TestRun_PostgresRoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("RECONCILER_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("RECONCILER_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for _, args := range [][]string{
		{"-direction=up", "-dsn=" + dsn},
		{"-direction=down", "-steps=1", "-dsn=" + dsn},
		{"-direction=up", "-dsn=" + dsn},
		{"-direction=status", "-dsn=" + dsn},
	} {
		var out bytes.Buffer
		if err := run(ctx, args, &out); err != nil {
			t.Fatalf("run %v: %v", args, err)
		}
		if !strings.Contains(out.String(), "pending=0") && args[0] != "-direction=down" {
			t.Fatalf("schema must be fully applied after %v, got %q", args, out.String())
		}
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
