package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/venkata-adulla/edi-control-tower/internal/edi"
)

// maxPending bounds the per-shipment reorder buffer.
const maxPending = 16

// Hooks are invoked synchronously while the per-shipment lock is held.
// They must not call back into Apply or WithShipment for the same shipment
// from the same goroutine.
type Hooks struct {
	OnTransition       func(ctx context.Context, ev *TransitionEvent)
	OnAnomaly          func(ctx context.Context, a *Anomaly)
	OnConflictResolved func(ctx context.Context, partnerID, shipmentRef string)
}

type pendingTx struct {
	tx    *edi.Transaction
	timer *time.Timer
}

// Correlator applies transactions to shipments under a single-writer-per-
// shipment discipline. Different shipments proceed fully in parallel.
type Correlator struct {
	store         ShipmentStore
	hooks         Hooks
	logger        log.Logger
	reorderWindow time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	routes  map[string]Route
	pending map[string][]*pendingTx
}

// New creates a Correlator. reorderWindow bounds how long skip-ahead
// transactions wait for their missing intermediate before escalating.
func New(store ShipmentStore, reorderWindow time.Duration, logger log.Logger, hooks Hooks) *Correlator {
	if store == nil {
		panic(xerrors.New("shipment store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Correlator{
		store:         store,
		hooks:         hooks,
		logger:        logger,
		reorderWindow: reorderWindow,
		locks:         make(map[string]*sync.Mutex),
		routes:        make(map[string]Route),
		pending:       make(map[string][]*pendingTx),
	}
}

// SetRoute installs a partner-specific milestone ordering. Routes apply to
// future transactions only.
func (c *Correlator) SetRoute(partnerID string, r Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[partnerID] = r
}

func (c *Correlator) routeFor(partnerID string) Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.routes[partnerID]; ok {
		return r
	}
	return DefaultRoute
}

func (c *Correlator) lockFor(ref string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lk, ok := c.locks[ref]
	if !ok {
		lk = &sync.Mutex{}
		c.locks[ref] = lk
	}
	return lk
}

// WithShipment runs fn while holding the shipment's serialization lock.
// SLA timer expiry re-enters through here so a timer firing can never race
// a just-accepted transition.
func (c *Correlator) WithShipment(ref string, fn func()) {
	lk := c.lockFor(ref)
	lk.Lock()
	defer lk.Unlock()
	fn()
}

// Apply routes one normalized transaction through the shipment's state
// machine. It returns how the transaction was handled; the error is non-nil
// only for store failures.
func (c *Correlator) Apply(ctx context.Context, tx *edi.Transaction) (*ApplyResult, error) {
	lk := c.lockFor(tx.ShipmentRef)
	lk.Lock()
	defer lk.Unlock()
	return c.applyLocked(ctx, tx, true)
}

func (c *Correlator) applyLocked(ctx context.Context, tx *edi.Transaction, allowBuffer bool) (*ApplyResult, error) {
	s, ok, err := c.store.Get(ctx, tx.ShipmentRef)
	if err != nil {
		return nil, fmt.Errorf("get shipment %s: %w", tx.ShipmentRef, err)
	}
	route := c.routeFor(tx.PartnerID)
	if !ok {
		s, err = c.createLocked(ctx, tx, route)
		if err != nil {
			return nil, err
		}
	}
	if s.Applied == nil {
		s.Applied = make(map[string]struct{})
	}

	// Idempotent replay: any previously applied transaction is a silent no-op.
	if _, dup := s.Applied[tx.TransactionID]; dup {
		return &ApplyResult{Decision: DecisionDuplicate, Shipment: s.Clone()}, nil
	}

	if s.Terminal() {
		return c.anomalyLocked(ctx, s, tx, AnomalyOutOfOrder,
			fmt.Sprintf("transaction after terminal state %s", s.State)), nil
	}

	if tx.Type == edi.TxException {
		return c.acceptLocked(ctx, s, tx, route, StateException)
	}

	target := targetState(tx.Type)
	curIdx := route.indexOf(s.State)
	tgtIdx := route.indexOf(target)

	switch {
	case tgtIdx < 0:
		return c.anomalyLocked(ctx, s, tx, AnomalyOutOfOrder,
			fmt.Sprintf("state %s is not on the partner route", target)), nil

	case tgtIdx == curIdx:
		// A different transaction claims the milestone that produced the
		// current state.
		if m, found := s.MilestoneAt(target); found && tx.Timestamp.Equal(m.At) {
			// Consistent timestamps: reconciled, not a conflict.
			s.Applied[tx.TransactionID] = struct{}{}
			s.UpdatedAt = time.Now().UTC()
			if err := c.store.Put(ctx, s); err != nil {
				return nil, fmt.Errorf("put shipment %s: %w", s.Ref, err)
			}
			if c.hooks.OnConflictResolved != nil {
				c.hooks.OnConflictResolved(ctx, s.PartnerID, s.Ref)
			}
			return &ApplyResult{Decision: DecisionDuplicate, Shipment: s.Clone()}, nil
		}
		return c.anomalyLocked(ctx, s, tx, AnomalyDuplicateConflict,
			fmt.Sprintf("transaction %s conflicts with %s for milestone %s", tx.TransactionID, s.LastTransactionID, target)), nil

	case tgtIdx == curIdx+1:
		return c.acceptLocked(ctx, s, tx, route, target)

	case tgtIdx < curIdx:
		return c.anomalyLocked(ctx, s, tx, AnomalyOutOfOrder,
			fmt.Sprintf("replays earlier milestone %s while in %s", target, s.State)), nil

	default: // skips more than one state ahead
		if allowBuffer {
			c.bufferLocked(ctx, tx)
		}
		return c.anomalyLocked(ctx, s, tx, AnomalyOutOfOrder,
			fmt.Sprintf("skips ahead to %s while in %s", target, s.State)), nil
	}
}

// createLocked persists a fresh shipment in CREATED and announces it so the
// SLA monitor can arm the first interval.
func (c *Correlator) createLocked(ctx context.Context, tx *edi.Transaction, route Route) (*Shipment, error) {
	now := time.Now().UTC()
	s := &Shipment{
		Ref:       tx.ShipmentRef,
		PartnerID: tx.PartnerID,
		State:     StateCreated,
		Applied:   make(map[string]struct{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("create shipment %s: %w", s.Ref, err)
	}
	if c.hooks.OnTransition != nil {
		c.hooks.OnTransition(ctx, &TransitionEvent{
			PartnerID:   s.PartnerID,
			ShipmentRef: s.Ref,
			To:          StateCreated,
			Next:        route.next(StateCreated),
			At:          tx.Timestamp,
		})
	}
	return s, nil
}

func (c *Correlator) acceptLocked(ctx context.Context, s *Shipment, tx *edi.Transaction, route Route, target State) (*ApplyResult, error) {
	from := s.State
	s.State = target
	s.Milestones = append(s.Milestones, Milestone{
		State:         target,
		TransactionID: tx.TransactionID,
		DocType:       tx.DocType,
		At:            tx.Timestamp,
	})
	s.LastTransactionID = tx.TransactionID
	s.Applied[tx.TransactionID] = struct{}{}
	s.UpdatedAt = time.Now().UTC()

	if s.Terminal() {
		c.dropPending(s.Ref)
	}

	if err := c.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("put shipment %s: %w", s.Ref, err)
	}

	ev := &TransitionEvent{
		PartnerID:     s.PartnerID,
		ShipmentRef:   s.Ref,
		From:          from,
		To:            target,
		TransactionID: tx.TransactionID,
		At:            tx.Timestamp,
		Terminal:      s.Terminal(),
		Exception:     target == StateException,
	}
	if !ev.Terminal {
		ev.Next = route.next(target)
	}
	if target == StateDelivered {
		if pm, found := s.MilestoneAt(StatePickedUp); found {
			ev.Transit = tx.Timestamp.Sub(pm.At)
		}
	}
	if c.hooks.OnTransition != nil {
		c.hooks.OnTransition(ctx, ev)
	}

	if !s.Terminal() {
		c.drainLocked(ctx, s.Ref)
	}

	// Re-read so the result reflects any buffered transactions drained above.
	cur, ok, err := c.store.Get(ctx, s.Ref)
	if err != nil || !ok {
		cur = s
	}
	return &ApplyResult{Decision: DecisionAccepted, Shipment: cur.Clone()}, nil
}

func (c *Correlator) anomalyLocked(ctx context.Context, s *Shipment, tx *edi.Transaction, kind AnomalyKind, detail string) *ApplyResult {
	a := &Anomaly{
		Kind:          kind,
		PartnerID:     tx.PartnerID,
		ShipmentRef:   tx.ShipmentRef,
		TransactionID: tx.TransactionID,
		Detail:        detail,
		At:            time.Now().UTC(),
	}
	c.logger.Warn(ctx, "sequencing anomaly",
		"kind", string(kind),
		"shipment_ref", tx.ShipmentRef,
		"transaction_id", tx.TransactionID,
		"detail", detail,
	)
	if c.hooks.OnAnomaly != nil {
		c.hooks.OnAnomaly(ctx, a)
	}
	return &ApplyResult{Decision: DecisionAnomaly, Anomaly: a, Shipment: s.Clone()}
}

// bufferLocked parks a skip-ahead transaction for the reordering window.
func (c *Correlator) bufferLocked(ctx context.Context, tx *edi.Transaction) {
	if c.reorderWindow <= 0 {
		return
	}
	c.mu.Lock()
	if len(c.pending[tx.ShipmentRef]) >= maxPending {
		c.mu.Unlock()
		c.logger.Warn(ctx, "reorder buffer full, dropping transaction",
			"shipment_ref", tx.ShipmentRef, "transaction_id", tx.TransactionID)
		return
	}
	p := &pendingTx{tx: tx}
	p.timer = time.AfterFunc(c.reorderWindow, func() {
		c.expirePending(tx.ShipmentRef, p)
	})
	c.pending[tx.ShipmentRef] = append(c.pending[tx.ShipmentRef], p)
	c.mu.Unlock()
}

// expirePending escalates a buffered transaction whose reordering window
// elapsed without the missing intermediate arriving.
func (c *Correlator) expirePending(ref string, p *pendingTx) {
	c.WithShipment(ref, func() {
		if !c.removePending(ref, p) {
			return // drained or dropped in the meantime
		}
		ctx := context.Background()
		s, ok, err := c.store.Get(ctx, ref)
		if err != nil || !ok {
			return
		}
		route := c.routeFor(s.PartnerID)
		missing := route.next(s.State)
		a := &Anomaly{
			Kind:          AnomalyMissingMilestone,
			PartnerID:     p.tx.PartnerID,
			ShipmentRef:   ref,
			TransactionID: p.tx.TransactionID,
			Detail:        fmt.Sprintf("reordering window expired waiting for %s", missing),
			At:            time.Now().UTC(),
		}
		c.logger.Warn(ctx, "reordering window expired",
			"shipment_ref", ref, "transaction_id", p.tx.TransactionID, "missing", string(missing))
		if c.hooks.OnAnomaly != nil {
			c.hooks.OnAnomaly(ctx, a)
		}
	})
}

// drainLocked re-applies buffered transactions that became applicable after
// an accepted transition. Called with the shipment lock held.
func (c *Correlator) drainLocked(ctx context.Context, ref string) {
	s, ok, err := c.store.Get(ctx, ref)
	if err != nil || !ok || s.Terminal() {
		return
	}
	route := c.routeFor(s.PartnerID)
	next := route.next(s.State)
	if next == "" {
		return
	}

	c.mu.Lock()
	var hit *pendingTx
	for _, p := range c.pending[ref] {
		if targetState(p.tx.Type) == next {
			hit = p
			break
		}
	}
	c.mu.Unlock()
	if hit == nil {
		return
	}

	c.removePending(ref, hit)
	hit.timer.Stop()
	if _, err := c.applyLocked(ctx, hit.tx, false); err != nil {
		c.logger.Error(ctx, err, "replaying buffered transaction",
			"shipment_ref", ref, "transaction_id", hit.tx.TransactionID)
	}
}

func (c *Correlator) removePending(ref string, p *pendingTx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.pending[ref]
	for i, q := range list {
		if q == p {
			c.pending[ref] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Correlator) dropPending(ref string) {
	c.mu.Lock()
	list := c.pending[ref]
	delete(c.pending, ref)
	c.mu.Unlock()
	for _, p := range list {
		p.timer.Stop()
	}
}

// AttachIncident records an open incident id on the shipment.
func (c *Correlator) AttachIncident(ctx context.Context, ref, incidentID string) error {
	var err error
	c.WithShipment(ref, func() {
		err = c.updateIncidents(ctx, ref, func(ids []string) []string {
			for _, id := range ids {
				if id == incidentID {
					return ids
				}
			}
			return append(ids, incidentID)
		})
	})
	return err
}

// DetachIncident removes a closed incident id from the shipment.
func (c *Correlator) DetachIncident(ctx context.Context, ref, incidentID string) error {
	var err error
	c.WithShipment(ref, func() {
		err = c.updateIncidents(ctx, ref, func(ids []string) []string {
			out := ids[:0]
			for _, id := range ids {
				if id != incidentID {
					out = append(out, id)
				}
			}
			return out
		})
	})
	return err
}

func (c *Correlator) updateIncidents(ctx context.Context, ref string, fn func([]string) []string) error {
	s, ok, err := c.store.Get(ctx, ref)
	if err != nil {
		return fmt.Errorf("get shipment %s: %w", ref, err)
	}
	if !ok {
		return fmt.Errorf("shipment %s not found", ref)
	}
	s.OpenIncidentIDs = fn(s.OpenIncidentIDs)
	s.UpdatedAt = time.Now().UTC()
	if err := c.store.Put(ctx, s); err != nil {
		return fmt.Errorf("put shipment %s: %w", ref, err)
	}
	return nil
}
