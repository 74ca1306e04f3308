// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venkata-adulla/edi-control-tower/internal/incident"
)

var tracer = otel.Tracer("github.com/venkata-adulla/edi-control-tower/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply incidents schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, shipment_ref, partner_id, kind, severity, status, detail,
	trigger_count, opened_at, updated_at, closed_at, resolution_note`

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// GetLive retrieves the OPEN or ACKNOWLEDGED incident for a
// (shipmentRef, kind) pair.
func (s *Store) GetLive(ctx context.Context, ref string, kind incident.Kind) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetLiveIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE shipment_ref = $1 AND kind = $2 AND status IN ('OPEN','ACKNOWLEDGED')
		ORDER BY opened_at DESC LIMIT 1`
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, ref, string(kind)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// Put inserts or updates an incident.
func (s *Store) Put(ctx context.Context, inc *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var closedAt *time.Time
	if !inc.ClosedAt.IsZero() {
		closedAt = &inc.ClosedAt
	}

	query := `INSERT INTO incidents (
		id, shipment_ref, partner_id, kind, severity, status, detail,
		trigger_count, opened_at, updated_at, closed_at, resolution_note
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		severity        = EXCLUDED.severity,
		status          = EXCLUDED.status,
		detail          = EXCLUDED.detail,
		trigger_count   = EXCLUDED.trigger_count,
		updated_at      = EXCLUDED.updated_at,
		closed_at       = EXCLUDED.closed_at,
		resolution_note = EXCLUDED.resolution_note`

	_, err := s.pool.Exec(ctx, query,
		inc.ID, inc.ShipmentRef, inc.PartnerID, string(inc.Kind), string(inc.Severity),
		string(inc.Status), inc.Detail, inc.TriggerCount, inc.OpenedAt, inc.UpdatedAt,
		closedAt, inc.ResolutionNote,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// ListOpen returns live incidents matching the filter, newest first.
func (s *Store) ListOpen(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListOpenIncidents", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE status IN ('OPEN','ACKNOWLEDGED')
		AND ($1 = '' OR partner_id = $1)
		AND ($2 = '' OR severity = $2)
		ORDER BY opened_at DESC`

	rows, err := s.pool.Query(ctx, query, f.PartnerID, string(f.Severity))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	inc, err := scanIncidentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inc, nil
}

func scanIncidentRow(row pgx.Row) (*incident.Incident, error) {
	var (
		inc      incident.Incident
		kind     string
		severity string
		status   string
		closedAt *time.Time
	)
	err := row.Scan(
		&inc.ID, &inc.ShipmentRef, &inc.PartnerID, &kind, &severity, &status,
		&inc.Detail, &inc.TriggerCount, &inc.OpenedAt, &inc.UpdatedAt,
		&closedAt, &inc.ResolutionNote,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Kind = incident.Kind(kind)
	inc.Severity = incident.Severity(severity)
	inc.Status = incident.Status(status)
	if closedAt != nil {
		inc.ClosedAt = *closedAt
	}
	return &inc, nil
}
