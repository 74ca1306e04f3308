package sla

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
)

// Locker serializes timer expiry with the correlator's per-shipment lock,
// so a timer firing can never race a just-accepted transition.
type Locker interface {
	WithShipment(ref string, fn func())
}

// Breach reports an interval that expired without its transition.
type Breach struct {
	PartnerID   string
	ShipmentRef string
	From        correlate.State
	To          correlate.State
	MaxDuration time.Duration
	Overdue     time.Duration
}

// IntervalSample reports a completed interval, on time or late, for KPI
// accounting.
type IntervalSample struct {
	PartnerID   string
	ShipmentRef string
	From        correlate.State
	To          correlate.State
	Elapsed     time.Duration
	MaxDuration time.Duration
	OnTime      bool
	At          time.Time
}

// Hooks receive monitor events. OnBreach fires under the shipment lock.
type Hooks struct {
	OnBreach   func(ctx context.Context, b *Breach)
	OnInterval func(ctx context.Context, s *IntervalSample)
	OnArmed    func()
	OnDisarmed func()
}

type intervalKey struct {
	ref  string
	from correlate.State
	to   correlate.State
}

// armed pins the rule in force when the timer was set: later rule changes
// never apply retroactively.
type armed struct {
	rule    Rule
	startAt time.Time
	timer   *time.Timer
}

// Monitor keeps one deadline timer per shipment per active milestone
// interval. All arming and cancellation happens from correlator transition
// hooks, i.e. with the shipment lock already held; expiry re-acquires the
// same lock through the Locker before deciding anything.
type Monitor struct {
	rules  *Rules
	locker Locker
	hooks  Hooks
	logger log.Logger

	mu    sync.Mutex
	armed map[intervalKey]*armed
	byRef map[string]map[intervalKey]struct{}
}

// NewMonitor creates a Monitor bound to a rule set and the correlator's
// serialization point.
func NewMonitor(rules *Rules, locker Locker, logger log.Logger, hooks Hooks) *Monitor {
	if rules == nil {
		panic(xerrors.New("sla rules are required"))
	}
	if locker == nil {
		panic(xerrors.New("shipment locker is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Monitor{
		rules:  rules,
		locker: locker,
		hooks:  hooks,
		logger: logger,
		armed:  make(map[intervalKey]*armed),
		byRef:  make(map[string]map[intervalKey]struct{}),
	}
}

// OnTransition completes the interval the transition closes, evaluates it
// against the rule armed for it, and arms the next interval. Must be called
// with the shipment lock held (it is wired as a correlator hook).
func (m *Monitor) OnTransition(ctx context.Context, ev *correlate.TransitionEvent) {
	m.complete(ctx, ev)

	if ev.Terminal || ev.Exception {
		m.CancelAll(ev.ShipmentRef)
		return
	}
	if ev.Next == "" {
		return
	}
	m.arm(ctx, ev.PartnerID, ev.ShipmentRef, ev.To, ev.Next, ev.At)
}

func (m *Monitor) complete(ctx context.Context, ev *correlate.TransitionEvent) {
	key := intervalKey{ref: ev.ShipmentRef, from: ev.From, to: ev.To}

	m.mu.Lock()
	a, ok := m.armed[key]
	if ok {
		m.dropLocked(key, a)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	elapsed := ev.At.Sub(a.startAt)
	sample := &IntervalSample{
		PartnerID:   ev.PartnerID,
		ShipmentRef: ev.ShipmentRef,
		From:        ev.From,
		To:          ev.To,
		Elapsed:     elapsed,
		MaxDuration: a.rule.MaxDuration.Std(),
		OnTime:      elapsed <= a.rule.MaxDuration.Std(),
		At:          ev.At,
	}
	if m.hooks.OnInterval != nil {
		m.hooks.OnInterval(ctx, sample)
	}
}

func (m *Monitor) arm(ctx context.Context, partnerID, ref string, from, to correlate.State, startAt time.Time) {
	rule, ok := m.rules.Lookup(partnerID, from, to)
	if !ok {
		return // no SLA configured for this interval
	}

	key := intervalKey{ref: ref, from: from, to: to}
	a := &armed{rule: rule, startAt: startAt}

	remaining := rule.MaxDuration.Std() - time.Since(startAt)
	if remaining < 0 {
		remaining = 0
	}

	// Insert before starting the timer: an immediate expiry grabs m.mu and
	// must find the entry (and a non-nil timer).
	m.mu.Lock()
	if old, dup := m.armed[key]; dup {
		m.dropLocked(key, old)
	}
	m.armed[key] = a
	refs, ok := m.byRef[ref]
	if !ok {
		refs = make(map[intervalKey]struct{})
		m.byRef[ref] = refs
	}
	refs[key] = struct{}{}
	a.timer = time.AfterFunc(remaining, func() {
		m.expire(key)
	})
	m.mu.Unlock()

	if m.hooks.OnArmed != nil {
		m.hooks.OnArmed()
	}
	m.logger.Info(ctx, "sla timer armed",
		"shipment_ref", ref,
		"partner_id", partnerID,
		"from", string(from),
		"to", string(to),
		"max_duration", rule.MaxDuration.String(),
	)
}

// expire runs on the timer goroutine. It re-enters the shipment's
// serialization point and re-checks the armed map: if the interval was
// completed in the meantime, the entry is gone and this is a no-op, which
// is what makes cancellation and firing atomic relative to each other.
func (m *Monitor) expire(key intervalKey) {
	m.locker.WithShipment(key.ref, func() {
		m.mu.Lock()
		a, ok := m.armed[key]
		if ok {
			m.dropLocked(key, a)
		}
		m.mu.Unlock()
		if !ok {
			return // completed or cancelled before we got the lock
		}

		ctx := context.Background()
		overdue := time.Since(a.startAt) - a.rule.MaxDuration.Std()
		if overdue < 0 {
			overdue = 0
		}
		b := &Breach{
			PartnerID:   a.rule.PartnerID,
			ShipmentRef: key.ref,
			From:        key.from,
			To:          key.to,
			MaxDuration: a.rule.MaxDuration.Std(),
			Overdue:     overdue,
		}
		m.logger.Warn(ctx, "sla breach",
			"shipment_ref", key.ref,
			"partner_id", a.rule.PartnerID,
			"from", string(key.from),
			"to", string(key.to),
			"overdue", overdue.String(),
		)
		if m.hooks.OnBreach != nil {
			m.hooks.OnBreach(ctx, b)
		}
	})
}

// CancelAll stops every pending timer for a shipment. Called when the
// shipment reaches CLOSED or EXCEPTION; explicit cleanup, not garbage
// collection.
func (m *Monitor) CancelAll(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.byRef[ref] {
		if a, ok := m.armed[key]; ok {
			m.dropLocked(key, a)
		}
	}
}

// ArmedCount reports how many interval timers are currently pending.
func (m *Monitor) ArmedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

// dropLocked removes an armed entry and stops its timer. Caller holds m.mu.
func (m *Monitor) dropLocked(key intervalKey, a *armed) {
	a.timer.Stop()
	delete(m.armed, key)
	if refs, ok := m.byRef[key.ref]; ok {
		delete(refs, key)
		if len(refs) == 0 {
			delete(m.byRef, key.ref)
		}
	}
	if m.hooks.OnDisarmed != nil {
		m.hooks.OnDisarmed()
	}
}
