// Package pgstore provides a PostgreSQL implementation of
// correlate.ShipmentStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
)

var tracer = otel.Tracer("github.com/venkata-adulla/edi-control-tower/internal/correlate/pgstore")

//go:embed schema.sql
var schema string

// Store persists shipments in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply shipments schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const shipmentColumns = `ref, partner_id, state, milestones, last_transaction_id,
	applied_tx_ids, open_incident_ids, created_at, updated_at`

// Get retrieves a shipment by ref.
func (s *Store) Get(ctx context.Context, ref string) (*correlate.Shipment, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetShipment", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE ref = $1`
	sh, err := scanShipment(s.pool.QueryRow(ctx, query, ref))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sh == nil {
		return nil, false, nil
	}
	return sh, true, nil
}

// Put inserts or updates a shipment.
func (s *Store) Put(ctx context.Context, sh *correlate.Shipment) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutShipment", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	milestonesJSON, err := json.Marshal(sh.Milestones)
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}
	applied := make([]string, 0, len(sh.Applied))
	for id := range sh.Applied {
		applied = append(applied, id)
	}
	appliedJSON, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("marshal applied tx ids: %w", err)
	}
	incidentsJSON, err := json.Marshal(sh.OpenIncidentIDs)
	if err != nil {
		return fmt.Errorf("marshal open incident ids: %w", err)
	}

	query := `INSERT INTO shipments (
		ref, partner_id, state, milestones, last_transaction_id,
		applied_tx_ids, open_incident_ids, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (ref) DO UPDATE SET
		partner_id          = EXCLUDED.partner_id,
		state               = EXCLUDED.state,
		milestones          = EXCLUDED.milestones,
		last_transaction_id = EXCLUDED.last_transaction_id,
		applied_tx_ids      = EXCLUDED.applied_tx_ids,
		open_incident_ids   = EXCLUDED.open_incident_ids,
		updated_at          = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		sh.Ref, sh.PartnerID, string(sh.State), milestonesJSON, sh.LastTransactionID,
		appliedJSON, incidentsJSON, sh.CreatedAt, sh.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert shipment: %w", err)
	}
	return nil
}

// scanShipment scans a single row into a Shipment. Returns (nil, nil) when
// no row is found.
func scanShipment(row pgx.Row) (*correlate.Shipment, error) {
	var (
		sh             correlate.Shipment
		state          string
		milestonesJSON []byte
		appliedJSON    []byte
		incidentsJSON  []byte
	)

	err := row.Scan(
		&sh.Ref, &sh.PartnerID, &state, &milestonesJSON, &sh.LastTransactionID,
		&appliedJSON, &incidentsJSON, &sh.CreatedAt, &sh.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan shipment: %w", err)
	}

	sh.State = correlate.State(state)

	if err := json.Unmarshal(milestonesJSON, &sh.Milestones); err != nil {
		return nil, fmt.Errorf("unmarshal milestones: %w", err)
	}
	var applied []string
	if err := json.Unmarshal(appliedJSON, &applied); err != nil {
		return nil, fmt.Errorf("unmarshal applied tx ids: %w", err)
	}
	sh.Applied = make(map[string]struct{}, len(applied))
	for _, id := range applied {
		sh.Applied[id] = struct{}{}
	}
	if err := json.Unmarshal(incidentsJSON, &sh.OpenIncidentIDs); err != nil {
		return nil, fmt.Errorf("unmarshal open incident ids: %w", err)
	}

	return &sh, nil
}
