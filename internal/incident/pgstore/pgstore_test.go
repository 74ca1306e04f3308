package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/venkata-adulla/edi-control-tower/internal/incident"
	"github.com/venkata-adulla/edi-control-tower/internal/incident/pgstore"
	"github.com/venkata-adulla/edi-control-tower/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("EDICT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EDICT_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func newIncident(ref string) *incident.Incident {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &incident.Incident{
		ID:           ulid.Make().String(),
		ShipmentRef:  ref,
		PartnerID:    "acme",
		Kind:         incident.KindSLABreach,
		Severity:     incident.SeverityMedium,
		Status:       incident.StatusOpen,
		Detail:       "CREATED->PICKED_UP overdue by 10m0s (max 1h0m0s)",
		TriggerCount: 1,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
}

func TestPutAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newIncident("test-shp-incident-001")
	if err := s.Put(ctx, inc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}

	if got.Kind != incident.KindSLABreach {
		t.Errorf("Kind = %q, want %q", got.Kind, incident.KindSLABreach)
	}
	if got.Severity != incident.SeverityMedium {
		t.Errorf("Severity = %q, want %q", got.Severity, incident.SeverityMedium)
	}
	if got.Status != incident.StatusOpen {
		t.Errorf("Status = %q, want %q", got.Status, incident.StatusOpen)
	}
	if got.Detail != inc.Detail {
		t.Errorf("Detail = %q, want %q", got.Detail, inc.Detail)
	}
	if !got.ClosedAt.IsZero() {
		t.Errorf("ClosedAt = %v, want zero for open incident", got.ClosedAt)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for nonexistent ID")
	}
}

func TestGetLive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ref := "test-shp-live-" + ulid.Make().String()

	older := newIncident(ref)
	older.OpenedAt = older.OpenedAt.Add(-time.Hour)
	newer := newIncident(ref)

	if err := s.Put(ctx, older); err != nil {
		t.Fatalf("Put older: %v", err)
	}
	if err := s.Put(ctx, newer); err != nil {
		t.Fatalf("Put newer: %v", err)
	}

	got, ok, err := s.GetLive(ctx, ref, incident.KindSLABreach)
	if err != nil {
		t.Fatalf("GetLive: %v", err)
	}
	if !ok {
		t.Fatal("GetLive returned ok=false")
	}
	if got.ID != newer.ID {
		t.Errorf("GetLive returned ID=%s, want newest %s", got.ID, newer.ID)
	}

	// Different kind on the same shipment does not match.
	if _, ok, _ := s.GetLive(ctx, ref, incident.KindException); ok {
		t.Error("GetLive returned ok=true for a kind never opened")
	}
}

func TestCloseExcludesFromLive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ref := "test-shp-close-" + ulid.Make().String()
	inc := newIncident(ref)
	if err := s.Put(ctx, inc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now := time.Now().Truncate(time.Microsecond).UTC()
	inc.Status = incident.StatusClosed
	inc.ClosedAt = now
	inc.UpdatedAt = now
	inc.ResolutionNote = "resolved with carrier"
	if err := s.Put(ctx, inc); err != nil {
		t.Fatalf("Put close: %v", err)
	}

	if _, ok, _ := s.GetLive(ctx, ref, incident.KindSLABreach); ok {
		t.Error("GetLive returned ok=true for a closed incident")
	}

	got, ok, err := s.Get(ctx, inc.ID)
	if err != nil || !ok {
		t.Fatalf("Get after close: %v, %v", ok, err)
	}
	if got.ResolutionNote != "resolved with carrier" {
		t.Errorf("ResolutionNote = %q, want the close note", got.ResolutionNote)
	}
	if !got.ClosedAt.Equal(now) {
		t.Errorf("ClosedAt = %v, want %v", got.ClosedAt, now)
	}
}

func TestListOpen(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	partner := "test-partner-" + ulid.Make().String()

	a := newIncident("test-shp-list-a")
	a.PartnerID = partner
	b := newIncident("test-shp-list-b")
	b.PartnerID = partner
	b.Severity = incident.SeverityHigh
	b.OpenedAt = a.OpenedAt.Add(time.Second)
	b.UpdatedAt = b.OpenedAt

	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := s.Put(ctx, b); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	got, err := s.ListOpen(ctx, incident.ListFilter{PartnerID: partner})
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListOpen = %d incidents, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != b.ID {
		t.Errorf("first incident = %s, want newest %s", got[0].ID, b.ID)
	}

	high, err := s.ListOpen(ctx, incident.ListFilter{PartnerID: partner, Severity: incident.SeverityHigh})
	if err != nil {
		t.Fatalf("ListOpen high: %v", err)
	}
	if len(high) != 1 || high[0].ID != b.ID {
		t.Errorf("ListOpen(high) = %v, want [%s]", high, b.ID)
	}
}
