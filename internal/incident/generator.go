// Package incident turns SLA breaches, sequencing anomalies, and exception
// transitions into durable incidents, deduplicated per (shipmentRef, kind),
// and owns the operator-facing incident lifecycle.
package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
	"github.com/venkata-adulla/edi-control-tower/internal/sla"
)

var (
	// ErrNotFound is returned for lifecycle calls on unknown incident ids.
	ErrNotFound = errors.New("incident not found")

	// ErrStateConflict is returned for lifecycle calls incompatible with the
	// incident's current status. Rejected, never retried.
	ErrStateConflict = errors.New("incident status conflict")
)

// scoreTimeout bounds the optional severity-hint call.
const scoreTimeout = 15 * time.Second

// Context describes a trigger for the optional Scorer.
type Context struct {
	Kind        Kind
	PartnerID   string
	ShipmentRef string
	Detail      string
	Overdue     time.Duration
}

// Scorer is a pluggable severity-hint capability. The generator works
// correctly without one: static default severities apply.
type Scorer interface {
	Score(ctx context.Context, c *Context) (Severity, error)
}

// Shipments is the slice of the correlator the generator needs to keep
// Shipment.openIncidentIds in sync.
type Shipments interface {
	AttachIncident(ctx context.Context, ref, incidentID string) error
	DetachIncident(ctx context.Context, ref, incidentID string) error
}

// Notifier pushes newly opened high-severity incidents to an external
// channel (e.g. Slack). Optional.
type Notifier interface {
	Notify(ctx context.Context, inc *Incident) error
}

// Hooks receive generator events for metrics/KPI accounting.
type Hooks struct {
	OnOpened  func(ctx context.Context, inc *Incident)
	OnUpdated func(ctx context.Context, inc *Incident)
	OnClosed  func(ctx context.Context, inc *Incident)
}

// Generator creates and updates incidents. The dedup check-then-act runs
// under a single mutex so concurrent triggers cannot double-open.
type Generator struct {
	store     Store
	shipments Shipments
	scorer    Scorer
	notifier  Notifier
	hooks     Hooks
	logger    log.Logger

	mu sync.Mutex
}

// NewGenerator creates a Generator. scorer and notifier may be nil.
func NewGenerator(store Store, shipments Shipments, scorer Scorer, notifier Notifier, logger log.Logger, hooks Hooks) *Generator {
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	if shipments == nil {
		panic(xerrors.New("shipments dependency is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Generator{
		store:     store,
		shipments: shipments,
		scorer:    scorer,
		notifier:  notifier,
		hooks:     hooks,
		logger:    logger,
	}
}

// HandleAnomaly opens or refreshes an incident for a sequencing anomaly.
func (g *Generator) HandleAnomaly(ctx context.Context, a *correlate.Anomaly) (*Incident, error) {
	return g.trigger(ctx, &trigger{
		kind:        Kind(a.Kind),
		partnerID:   a.PartnerID,
		shipmentRef: a.ShipmentRef,
		severity:    SeverityMedium,
		detail:      a.Detail,
	})
}

// HandleBreach opens or refreshes an SLA_BREACH incident. Overdue beyond the
// rule's own maxDuration (i.e. elapsed > 2x) is high severity.
func (g *Generator) HandleBreach(ctx context.Context, b *sla.Breach) (*Incident, error) {
	sev := SeverityMedium
	if b.Overdue > b.MaxDuration {
		sev = SeverityHigh
	}
	return g.trigger(ctx, &trigger{
		kind:        KindSLABreach,
		partnerID:   b.PartnerID,
		shipmentRef: b.ShipmentRef,
		severity:    sev,
		detail:      fmt.Sprintf("%s->%s overdue by %s (max %s)", b.From, b.To, b.Overdue, b.MaxDuration),
		overdue:     b.Overdue,
	})
}

// HandleException opens or refreshes a high-severity incident for a
// shipment that moved to EXCEPTION.
func (g *Generator) HandleException(ctx context.Context, ev *correlate.TransitionEvent) (*Incident, error) {
	return g.trigger(ctx, &trigger{
		kind:        KindException,
		partnerID:   ev.PartnerID,
		shipmentRef: ev.ShipmentRef,
		severity:    SeverityHigh,
		detail:      fmt.Sprintf("exception transaction %s from state %s", ev.TransactionID, ev.From),
	})
}

// ResolveConflict auto-closes a live DUPLICATE_CONFLICT incident once the
// conflicting transactions reconciled. The only kind that auto-closes.
func (g *Generator) ResolveConflict(ctx context.Context, shipmentRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	inc, ok, err := g.store.GetLive(ctx, shipmentRef, KindDuplicateConflict)
	if err != nil {
		return fmt.Errorf("lookup conflict incident: %w", err)
	}
	if !ok {
		return nil
	}
	return g.closeLocked(ctx, inc, "auto-closed: conflicting transactions reconciled")
}

type trigger struct {
	kind        Kind
	partnerID   string
	shipmentRef string
	severity    Severity
	detail      string
	overdue     time.Duration
}

// trigger performs the atomic dedup-by-(ref,kind) check-then-act: at most
// one live incident per pair; repeat triggers update it in place.
func (g *Generator) trigger(ctx context.Context, t *trigger) (*Incident, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok, err := g.store.GetLive(ctx, t.shipmentRef, t.kind)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if ok {
		existing.TriggerCount++
		existing.Detail = t.detail
		if t.severity.rank() > existing.Severity.rank() {
			existing.Severity = t.severity
		}
		existing.UpdatedAt = time.Now().UTC()
		if err := g.store.Put(ctx, existing); err != nil {
			return nil, fmt.Errorf("update incident: %w", err)
		}
		if g.hooks.OnUpdated != nil {
			g.hooks.OnUpdated(ctx, existing)
		}
		return existing, nil
	}

	now := time.Now().UTC()
	inc := &Incident{
		ID:           ulid.Make().String(),
		ShipmentRef:  t.shipmentRef,
		PartnerID:    t.partnerID,
		Kind:         t.kind,
		Severity:     t.severity,
		Status:       StatusOpen,
		Detail:       t.detail,
		TriggerCount: 1,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	if err := g.store.Put(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	if err := g.shipments.AttachIncident(ctx, inc.ShipmentRef, inc.ID); err != nil {
		g.logger.Error(ctx, err, "attaching incident to shipment",
			"incident_id", inc.ID, "shipment_ref", inc.ShipmentRef)
	}

	g.logger.Info(ctx, "incident opened",
		"incident_id", inc.ID,
		"kind", string(inc.Kind),
		"severity", string(inc.Severity),
		"shipment_ref", inc.ShipmentRef,
		"partner_id", inc.PartnerID,
	)
	if g.hooks.OnOpened != nil {
		g.hooks.OnOpened(ctx, inc)
	}

	// Optional enrichment off the hot path: the scorer may raise severity,
	// the notifier pushes high-severity incidents out.
	bg := context.WithoutCancel(ctx)
	if g.scorer != nil {
		go g.applyScore(bg, inc.Clone(), t)
	} else if g.notifier != nil && inc.Severity.rank() >= SeverityHigh.rank() {
		go g.notify(bg, inc.Clone())
	}

	return inc, nil
}

func (g *Generator) applyScore(ctx context.Context, inc *Incident, t *trigger) {
	sctx, cancel := context.WithTimeout(ctx, scoreTimeout)
	defer cancel()

	hint, err := g.scorer.Score(sctx, &Context{
		Kind:        t.kind,
		PartnerID:   t.partnerID,
		ShipmentRef: t.shipmentRef,
		Detail:      t.detail,
		Overdue:     t.overdue,
	})
	if err != nil {
		g.logger.Warn(ctx, "severity scorer failed, keeping static severity",
			"incident_id", inc.ID, "error", err.Error())
		hint = inc.Severity
	}

	g.mu.Lock()
	cur, ok, err := g.store.Get(ctx, inc.ID)
	if err == nil && ok && cur.Live() && hint.rank() > cur.Severity.rank() {
		cur.Severity = hint
		cur.UpdatedAt = time.Now().UTC()
		if perr := g.store.Put(ctx, cur); perr != nil {
			g.logger.Error(ctx, perr, "persisting scored severity", "incident_id", inc.ID)
		} else {
			inc = cur.Clone()
		}
	}
	g.mu.Unlock()
	if err != nil {
		g.logger.Error(ctx, err, "reloading incident for scoring", "incident_id", inc.ID)
	}

	if g.notifier != nil && inc.Severity.rank() >= SeverityHigh.rank() {
		g.notify(ctx, inc)
	}
}

func (g *Generator) notify(ctx context.Context, inc *Incident) {
	if err := g.notifier.Notify(ctx, inc); err != nil {
		g.logger.Error(ctx, err, "incident notification failed", "incident_id", inc.ID)
	}
}

// Acknowledge moves an OPEN incident to ACKNOWLEDGED.
func (g *Generator) Acknowledge(ctx context.Context, id string) (*Incident, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inc, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if inc.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot acknowledge incident in %s", ErrStateConflict, inc.Status)
	}

	inc.Status = StatusAcknowledged
	inc.UpdatedAt = time.Now().UTC()
	if err := g.store.Put(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	return inc, nil
}

// Close moves an OPEN or ACKNOWLEDGED incident to CLOSED with a resolution
// note, and detaches it from its shipment.
func (g *Generator) Close(ctx context.Context, id, note string) (*Incident, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inc, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !inc.Live() {
		return nil, fmt.Errorf("%w: cannot close incident in %s", ErrStateConflict, inc.Status)
	}
	if err := g.closeLocked(ctx, inc, note); err != nil {
		return nil, err
	}
	return inc, nil
}

// closeLocked finalizes a close. Caller holds g.mu.
func (g *Generator) closeLocked(ctx context.Context, inc *Incident, note string) error {
	now := time.Now().UTC()
	inc.Status = StatusClosed
	inc.ClosedAt = now
	inc.UpdatedAt = now
	inc.ResolutionNote = note
	if err := g.store.Put(ctx, inc); err != nil {
		return fmt.Errorf("close incident: %w", err)
	}
	if err := g.shipments.DetachIncident(ctx, inc.ShipmentRef, inc.ID); err != nil {
		g.logger.Error(ctx, err, "detaching incident from shipment",
			"incident_id", inc.ID, "shipment_ref", inc.ShipmentRef)
	}
	g.logger.Info(ctx, "incident closed",
		"incident_id", inc.ID, "kind", string(inc.Kind), "shipment_ref", inc.ShipmentRef)
	if g.hooks.OnClosed != nil {
		g.hooks.OnClosed(ctx, inc)
	}
	return nil
}
