package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		tag  pgconn.CommandTag
		want string
	}{
		{"select from sql", "SELECT * FROM shipments", pgconn.CommandTag{}, "SELECT"},
		{"lowercase sql", "insert into incidents values ($1)", pgconn.CommandTag{}, "INSERT"},
		{"leading whitespace", "\n\t update shipments set state = $1", pgconn.CommandTag{}, "UPDATE"},
		{"tag wins over sql", "SELECT 1", pgconn.NewCommandTag("INSERT 0 1"), "INSERT"},
		{"tag only", "", pgconn.NewCommandTag("DELETE 3"), "DELETE"},
		{"empty everything", "", pgconn.CommandTag{}, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := operationName(tt.sql, tt.tag)
			if got != tt.want {
				t.Errorf("operationName(%q, %q) = %q, want %q", tt.sql, tt.tag, got, tt.want)
			}
		})
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	var gotOp, gotOutcome string
	obs := QueryObserverFunc(func(_ context.Context, operation, outcome string, _ time.Duration) {
		gotOp = operation
		gotOutcome = outcome
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "ok", time.Millisecond)
	if gotOp != "SELECT" || gotOutcome != "ok" {
		t.Errorf("observed %q/%q, want SELECT/ok", gotOp, gotOutcome)
	}

	SetQueryObserver(nil)
	if got = getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
