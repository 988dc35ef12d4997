package integration

import (
	"context"
	"testing"

	"github.com/triage/triage/internal/platform/db"
)

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	migrator := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir)

	// TestMain already applied everything; a second run is a no-op.
	count, err := migrator.Up(ctx)
	if err != nil {
		t.Fatalf("re-run migrations: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 newly applied migrations, got %d", count)
	}
}

func TestMigrations_StatusAllApplied(t *testing.T) {
	ctx := context.Background()
	migrator := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir)

	statuses, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	if len(statuses) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d (%s) not applied", s.Version, s.Name)
		}
		if s.Applied && s.AppliedAt == nil {
			t.Errorf("migration %d applied without timestamp", s.Version)
		}
	}
}
