package correlate_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	. "github.com/venkata-adulla/edi-control-tower/internal/correlate"
	"github.com/venkata-adulla/edi-control-tower/internal/correlate/memstore"
	"github.com/venkata-adulla/edi-control-tower/internal/edi"
)

type hookRecorder struct {
	mu          sync.Mutex
	transitions []*TransitionEvent
	anomalies   []*Anomaly
	resolved    []string
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnTransition: func(_ context.Context, ev *TransitionEvent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, ev)
		},
		OnAnomaly: func(_ context.Context, a *Anomaly) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.anomalies = append(h.anomalies, a)
		},
		OnConflictResolved: func(_ context.Context, _, ref string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.resolved = append(h.resolved, ref)
		},
	}
}

func (h *hookRecorder) anomalyKinds() []AnomalyKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AnomalyKind, 0, len(h.anomalies))
	for _, a := range h.anomalies {
		out = append(out, a.Kind)
	}
	return out
}

func tx(id, ref string, typ edi.TxType, at time.Time) *edi.Transaction {
	return &edi.Transaction{
		TransactionID: id,
		PartnerID:     "acme",
		ShipmentRef:   ref,
		Type:          typ,
		Timestamp:     at,
	}
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestApply_HappyPath(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	st := memstore.New()
	c := New(st, 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	steps := []struct {
		typ  edi.TxType
		want State
	}{
		{edi.TxPickup, StatePickedUp},
		{edi.TxInTransit, StateInTransit},
		{edi.TxDelivered, StateDelivered},
		{edi.TxClosed, StateClosed},
	}

	for i, st := range steps {
		res, err := c.Apply(ctx, tx(fmt.Sprintf("tx-%d", i), "SHP-1", st.typ, t0.Add(time.Duration(i)*time.Hour)))
		if err != nil {
			t.Fatalf("Apply(%s) error = %v", st.typ, err)
		}
		if res.Decision != DecisionAccepted {
			t.Fatalf("Apply(%s) decision = %q, want %q", st.typ, res.Decision, DecisionAccepted)
		}
		if res.Shipment.State != st.want {
			t.Errorf("state after %s = %q, want %q", st.typ, res.Shipment.State, st.want)
		}
	}

	s, ok, err := st.Get(ctx, "SHP-1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if len(s.Milestones) != 4 {
		t.Errorf("milestones = %d, want 4", len(s.Milestones))
	}
	if !s.Terminal() {
		t.Error("shipment should be terminal after CLOSED")
	}

	// Synthetic CREATED transition plus one per milestone.
	if got := len(rec.transitions); got != 5 {
		t.Errorf("transitions = %d, want 5", got)
	}
	if rec.transitions[0].To != StateCreated || rec.transitions[0].Next != StatePickedUp {
		t.Errorf("first transition = %+v, want To=CREATED Next=PICKED_UP", rec.transitions[0])
	}
	last := rec.transitions[4]
	if !last.Terminal || last.To != StateClosed {
		t.Errorf("last transition = %+v, want terminal CLOSED", last)
	}
	if len(rec.anomalies) != 0 {
		t.Errorf("anomalies = %d, want 0", len(rec.anomalies))
	}
}

func TestApply_TransitDuration(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-2", edi.TxPickup, t0))
	c.Apply(ctx, tx("t2", "SHP-2", edi.TxInTransit, t0.Add(2*time.Hour)))
	c.Apply(ctx, tx("t3", "SHP-2", edi.TxDelivered, t0.Add(26*time.Hour)))

	var delivered *TransitionEvent
	for _, ev := range rec.transitions {
		if ev.To == StateDelivered {
			delivered = ev
		}
	}
	if delivered == nil {
		t.Fatal("no DELIVERED transition recorded")
	}
	if delivered.Transit != 26*time.Hour {
		t.Errorf("Transit = %v, want %v", delivered.Transit, 26*time.Hour)
	}
}

func TestApply_IdempotentReplay(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	first, err := c.Apply(ctx, tx("t1", "SHP-3", edi.TxPickup, t0))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if first.Decision != DecisionAccepted {
		t.Fatalf("first apply = %q, want accepted", first.Decision)
	}

	// Exact replay, immediately.
	replay, err := c.Apply(ctx, tx("t1", "SHP-3", edi.TxPickup, t0))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if replay.Decision != DecisionDuplicate {
		t.Errorf("replay decision = %q, want %q", replay.Decision, DecisionDuplicate)
	}

	// Replay after the shipment moved on: still a silent no-op.
	c.Apply(ctx, tx("t2", "SHP-3", edi.TxInTransit, t0.Add(time.Hour)))
	late, err := c.Apply(ctx, tx("t1", "SHP-3", edi.TxPickup, t0))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if late.Decision != DecisionDuplicate {
		t.Errorf("late replay decision = %q, want %q", late.Decision, DecisionDuplicate)
	}
	if late.Shipment.State != StateInTransit {
		t.Errorf("state after late replay = %q, want %q", late.Shipment.State, StateInTransit)
	}
	if len(late.Shipment.Milestones) != 2 {
		t.Errorf("milestones = %d, want 2", len(late.Shipment.Milestones))
	}
	if len(rec.anomalies) != 0 {
		t.Errorf("anomalies = %d, want 0", len(rec.anomalies))
	}
}

func TestApply_OutOfOrderEarlierMilestone(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-4", edi.TxPickup, t0))
	c.Apply(ctx, tx("t2", "SHP-4", edi.TxInTransit, t0.Add(time.Hour)))

	res, err := c.Apply(ctx, tx("t3", "SHP-4", edi.TxPickup, t0.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionAnomaly {
		t.Fatalf("decision = %q, want %q", res.Decision, DecisionAnomaly)
	}
	if res.Anomaly.Kind != AnomalyOutOfOrder {
		t.Errorf("anomaly kind = %q, want %q", res.Anomaly.Kind, AnomalyOutOfOrder)
	}
	if res.Shipment.State != StateInTransit {
		t.Errorf("state = %q, want unchanged %q", res.Shipment.State, StateInTransit)
	}
	if got := rec.anomalyKinds(); len(got) != 1 {
		t.Errorf("anomalies = %v, want exactly one", got)
	}
}

func TestApply_DuplicateConflict(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-5", edi.TxPickup, t0))

	// Different transaction, same milestone, different timestamp: conflict.
	res, err := c.Apply(ctx, tx("t9", "SHP-5", edi.TxPickup, t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionAnomaly {
		t.Fatalf("decision = %q, want %q", res.Decision, DecisionAnomaly)
	}
	if res.Anomaly.Kind != AnomalyDuplicateConflict {
		t.Errorf("anomaly kind = %q, want %q", res.Anomaly.Kind, AnomalyDuplicateConflict)
	}
}

func TestApply_DuplicateReconciled(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-6", edi.TxPickup, t0))

	// Different transaction, same milestone, same timestamp: reconciled.
	res, err := c.Apply(ctx, tx("t9", "SHP-6", edi.TxPickup, t0))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionDuplicate {
		t.Errorf("decision = %q, want %q", res.Decision, DecisionDuplicate)
	}
	if len(rec.anomalies) != 0 {
		t.Errorf("anomalies = %d, want 0", len(rec.anomalies))
	}

	rec.mu.Lock()
	resolved := len(rec.resolved)
	rec.mu.Unlock()
	if resolved != 1 {
		t.Errorf("conflict resolutions = %d, want 1", resolved)
	}
}

func TestApply_TerminalIsImmutable(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-7", edi.TxPickup, t0))
	c.Apply(ctx, tx("t2", "SHP-7", edi.TxInTransit, t0.Add(time.Hour)))
	c.Apply(ctx, tx("t3", "SHP-7", edi.TxDelivered, t0.Add(2*time.Hour)))
	c.Apply(ctx, tx("t4", "SHP-7", edi.TxClosed, t0.Add(3*time.Hour)))

	res, err := c.Apply(ctx, tx("t5", "SHP-7", edi.TxInTransit, t0.Add(4*time.Hour)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionAnomaly {
		t.Fatalf("decision = %q, want %q", res.Decision, DecisionAnomaly)
	}
	if res.Shipment.State != StateClosed {
		t.Errorf("state = %q, want %q", res.Shipment.State, StateClosed)
	}
	if len(res.Shipment.Milestones) != 4 {
		t.Errorf("milestones = %d, want unchanged 4", len(res.Shipment.Milestones))
	}
}

func TestApply_ExceptionFromAnyState(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-8", edi.TxPickup, t0))
	res, err := c.Apply(ctx, tx("t2", "SHP-8", edi.TxException, t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionAccepted {
		t.Fatalf("decision = %q, want %q", res.Decision, DecisionAccepted)
	}
	if res.Shipment.State != StateException {
		t.Errorf("state = %q, want %q", res.Shipment.State, StateException)
	}
	if !res.Shipment.Terminal() {
		t.Error("EXCEPTION should be terminal")
	}

	var exc *TransitionEvent
	for _, ev := range rec.transitions {
		if ev.To == StateException {
			exc = ev
		}
	}
	if exc == nil {
		t.Fatal("no EXCEPTION transition recorded")
	}
	if !exc.Exception || !exc.Terminal {
		t.Errorf("exception transition = %+v, want Exception and Terminal", exc)
	}
}

func TestReorderBuffer_DrainsOnMissingArrival(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), time.Minute, log.Nop(), rec.hooks())
	ctx := context.Background()

	// IN_TRANSIT while still CREATED: skips PICKED_UP, gets buffered.
	res, err := c.Apply(ctx, tx("t2", "SHP-9", edi.TxInTransit, t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionAnomaly || res.Anomaly.Kind != AnomalyOutOfOrder {
		t.Fatalf("skip-ahead = %+v, want OUT_OF_ORDER anomaly", res)
	}

	// The missing predecessor arrives: the buffered transaction drains.
	res, err = c.Apply(ctx, tx("t1", "SHP-9", edi.TxPickup, t0))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Decision != DecisionAccepted {
		t.Fatalf("decision = %q, want %q", res.Decision, DecisionAccepted)
	}
	if res.Shipment.State != StateInTransit {
		t.Errorf("state = %q, want %q after drain", res.Shipment.State, StateInTransit)
	}
	if len(res.Shipment.Milestones) != 2 {
		t.Errorf("milestones = %d, want 2", len(res.Shipment.Milestones))
	}

	// Only the original skip-ahead anomaly, nothing from the drain.
	if got := rec.anomalyKinds(); len(got) != 1 || got[0] != AnomalyOutOfOrder {
		t.Errorf("anomalies = %v, want exactly [OUT_OF_ORDER]", got)
	}
}

func TestReorderBuffer_ExpiresToMissingMilestone(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	c := New(memstore.New(), 30*time.Millisecond, log.Nop(), rec.hooks())
	ctx := context.Background()

	c.Apply(ctx, tx("t2", "SHP-10", edi.TxInTransit, t0.Add(time.Hour)))

	deadline := time.Now().Add(2 * time.Second)
	for {
		kinds := rec.anomalyKinds()
		if len(kinds) == 2 {
			if kinds[1] != AnomalyMissingMilestone {
				t.Fatalf("second anomaly = %q, want %q", kinds[1], AnomalyMissingMilestone)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("anomalies = %v, want MISSING_MILESTONE after window expiry", kinds)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApply_Concurrent(t *testing.T) {
	t.Parallel()

	rec := &hookRecorder{}
	st := memstore.New()
	c := New(st, 0, log.Nop(), rec.hooks())
	ctx := context.Background()

	const shipments = 100

	var wg sync.WaitGroup
	for i := 0; i < shipments; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("SHP-C%d", i)
			seq := []edi.TxType{edi.TxPickup, edi.TxInTransit, edi.TxDelivered, edi.TxClosed}
			for j, typ := range seq {
				id := fmt.Sprintf("%s-t%d", ref, j)
				if _, err := c.Apply(ctx, tx(id, ref, typ, t0.Add(time.Duration(j)*time.Hour))); err != nil {
					t.Errorf("Apply(%s) error = %v", id, err)
				}
				// Interleave replays to exercise idempotency under contention.
				for k := 0; k <= j; k++ {
					replayID := fmt.Sprintf("%s-t%d", ref, k)
					c.Apply(ctx, tx(replayID, ref, seq[k], t0.Add(time.Duration(k)*time.Hour)))
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < shipments; i++ {
		ref := fmt.Sprintf("SHP-C%d", i)
		s, ok, err := st.Get(ctx, ref)
		if err != nil || !ok {
			t.Fatalf("Get(%s) = %v, %v", ref, ok, err)
		}
		if s.State != StateClosed {
			t.Errorf("%s state = %q, want %q", ref, s.State, StateClosed)
		}
		if len(s.Milestones) != 4 {
			t.Errorf("%s milestones = %d, want 4", ref, len(s.Milestones))
		}
	}
	if len(rec.anomalyKinds()) != 0 {
		t.Errorf("anomalies = %v, want none", rec.anomalyKinds())
	}
}

func TestAttachDetachIncident(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	c := New(st, 0, log.Nop(), Hooks{})
	ctx := context.Background()

	c.Apply(ctx, tx("t1", "SHP-11", edi.TxPickup, t0))

	if err := c.AttachIncident(ctx, "SHP-11", "inc-1"); err != nil {
		t.Fatalf("AttachIncident() error = %v", err)
	}
	// Attaching the same id again is a no-op.
	if err := c.AttachIncident(ctx, "SHP-11", "inc-1"); err != nil {
		t.Fatalf("AttachIncident() error = %v", err)
	}

	s, _, _ := st.Get(ctx, "SHP-11")
	if len(s.OpenIncidentIDs) != 1 || s.OpenIncidentIDs[0] != "inc-1" {
		t.Errorf("OpenIncidentIDs = %v, want [inc-1]", s.OpenIncidentIDs)
	}

	if err := c.DetachIncident(ctx, "SHP-11", "inc-1"); err != nil {
		t.Fatalf("DetachIncident() error = %v", err)
	}
	s, _, _ = st.Get(ctx, "SHP-11")
	if len(s.OpenIncidentIDs) != 0 {
		t.Errorf("OpenIncidentIDs = %v, want empty", s.OpenIncidentIDs)
	}

	if err := c.AttachIncident(ctx, "SHP-404", "inc-2"); err == nil {
		t.Error("AttachIncident() on unknown shipment should error")
	}
}
