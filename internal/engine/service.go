package engine

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
	"github.com/venkata-adulla/edi-control-tower/internal/edi"
	"github.com/venkata-adulla/edi-control-tower/internal/incident"
	"github.com/venkata-adulla/edi-control-tower/internal/kpi"
	"github.com/venkata-adulla/edi-control-tower/internal/sla"
)

// Hooks receive pipeline events, typically for metrics.
type Hooks struct {
	OnSubmit         func(result string, seconds float64)
	OnAnomaly        func(kind string)
	OnBreach         func()
	OnInterval       func(onTime bool)
	OnIncidentOpened func(kind, severity string)
	OnIncidentClosed func(kind string)
	OnTimerArmed     func()
	OnTimerDisarmed  func()
}

// Params collects the dependencies for New.
type Params struct {
	Shipments correlate.ShipmentStore
	Incidents incident.Store
	Rules     *sla.Rules
	KPIs      *kpi.Aggregator

	// Scorer and Notifier are optional incident enrichment.
	Scorer   incident.Scorer
	Notifier incident.Notifier

	// ReorderWindow bounds how long an early transaction waits for its
	// predecessor before a MISSING_MILESTONE anomaly is raised.
	ReorderWindow time.Duration

	Logger log.Logger
	Hooks  Hooks
}

// Status classifies the outcome of one submission.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusAnomaly  Status = "anomaly"
)

// Result reports what one submitted transaction did.
type Result struct {
	Status        Status             `json:"status"`
	TransactionID string             `json:"transaction_id"`
	ShipmentRef   string             `json:"shipment_ref"`
	State         correlate.State    `json:"state"`
	Duplicate     bool               `json:"duplicate,omitempty"`
	Anomaly       *correlate.Anomaly `json:"anomaly,omitempty"`
}

// Service runs the transaction pipeline and owns its moving parts.
type Service struct {
	correlator *correlate.Correlator
	monitor    *sla.Monitor
	generator  *incident.Generator
	kpis       *kpi.Aggregator
	rules      *sla.Rules
	logger     log.Logger
	hooks      Hooks
}

// New builds the pipeline. The correlator's hooks feed the SLA monitor and
// KPI windows synchronously under the shipment lock; incident handlers go
// through goroutines because they take the lock again.
func New(p Params) *Service {
	if p.Shipments == nil {
		panic(xerrors.New("shipment store is required"))
	}
	if p.Incidents == nil {
		panic(xerrors.New("incident store is required"))
	}
	if p.Rules == nil {
		panic(xerrors.New("sla rules are required"))
	}
	if p.KPIs == nil {
		panic(xerrors.New("kpi aggregator is required"))
	}
	logger := p.Logger
	if logger == nil {
		logger = log.Nop()
	}

	s := &Service{
		kpis:   p.KPIs,
		rules:  p.Rules,
		logger: logger,
		hooks:  p.Hooks,
	}

	s.correlator = correlate.New(p.Shipments, p.ReorderWindow, logger, correlate.Hooks{
		OnTransition:       s.onTransition,
		OnAnomaly:          s.onAnomaly,
		OnConflictResolved: s.onConflictResolved,
	})
	s.monitor = sla.NewMonitor(p.Rules, s.correlator, logger, sla.Hooks{
		OnBreach:   s.onBreach,
		OnInterval: s.onInterval,
		OnArmed:    p.Hooks.OnTimerArmed,
		OnDisarmed: p.Hooks.OnTimerDisarmed,
	})
	s.generator = incident.NewGenerator(p.Incidents, s.correlator, p.Scorer, p.Notifier, logger, incident.Hooks{
		OnOpened: s.onIncidentOpened,
		OnClosed: s.onIncidentClosed,
	})

	return s
}

// SetRoute overrides the milestone route for one partner.
func (s *Service) SetRoute(partnerID string, r correlate.Route) {
	s.correlator.SetRoute(partnerID, r)
}

// SubmitTransaction normalizes a raw message and applies it. Validation
// failures return a *edi.ValidationError; callers map that to a 400.
func (s *Service) SubmitTransaction(ctx context.Context, raw []byte) (*Result, error) {
	start := time.Now()
	res, err := s.submit(ctx, raw)
	if s.hooks.OnSubmit != nil {
		s.hooks.OnSubmit(submitResult(res, err), time.Since(start).Seconds())
	}
	return res, err
}

func submitResult(res *Result, err error) string {
	switch {
	case err != nil:
		return "rejected"
	case res.Duplicate:
		return "duplicate"
	default:
		return string(res.Status)
	}
}

func (s *Service) submit(ctx context.Context, raw []byte) (*Result, error) {
	tx, err := edi.Normalize(raw)
	if err != nil {
		s.logger.Warn(ctx, "transaction rejected", "reason", err.Error())
		return nil, err
	}

	applied, err := s.correlator.Apply(ctx, tx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		TransactionID: tx.TransactionID,
		ShipmentRef:   tx.ShipmentRef,
	}
	if applied.Shipment != nil {
		res.State = applied.Shipment.State
	}
	switch applied.Decision {
	case correlate.DecisionAnomaly:
		res.Status = StatusAnomaly
		res.Anomaly = applied.Anomaly
	case correlate.DecisionDuplicate:
		res.Status = StatusAccepted
		res.Duplicate = true
	default:
		res.Status = StatusAccepted
	}
	return res, nil
}

// LoadRules replaces or extends the SLA rule set. Already-armed timers keep
// the rule they were armed with.
func (s *Service) LoadRules(ctx context.Context, rules []sla.Rule) error {
	if err := s.rules.Load(rules); err != nil {
		return err
	}
	s.logger.Info(ctx, "sla rules loaded", "count", len(rules), "total", s.rules.Len())
	return nil
}

// AcknowledgeIncident transitions an OPEN incident to ACKNOWLEDGED.
func (s *Service) AcknowledgeIncident(ctx context.Context, id string) (*incident.Incident, error) {
	return s.generator.Acknowledge(ctx, id)
}

// CloseIncident transitions a live incident to CLOSED.
func (s *Service) CloseIncident(ctx context.Context, id, note string) (*incident.Incident, error) {
	return s.generator.Close(ctx, id, note)
}

// ArmedTimers reports how many SLA deadline timers are currently pending.
func (s *Service) ArmedTimers() int {
	return s.monitor.ArmedCount()
}

func (s *Service) onTransition(ctx context.Context, ev *correlate.TransitionEvent) {
	s.monitor.OnTransition(ctx, ev)
	if ev.Transit > 0 {
		s.kpis.RecordTransit(ev.PartnerID, ev.Transit, ev.At)
	}
	if ev.Exception {
		go s.raiseException(context.WithoutCancel(ctx), ev)
	}
}

func (s *Service) raiseException(ctx context.Context, ev *correlate.TransitionEvent) {
	if _, err := s.generator.HandleException(ctx, ev); err != nil {
		s.logger.Error(ctx, err, "exception incident failed", "shipment_ref", ev.ShipmentRef)
	}
}

func (s *Service) onAnomaly(ctx context.Context, a *correlate.Anomaly) {
	if s.hooks.OnAnomaly != nil {
		s.hooks.OnAnomaly(string(a.Kind))
	}
	go s.raiseAnomaly(context.WithoutCancel(ctx), a)
}

func (s *Service) raiseAnomaly(ctx context.Context, a *correlate.Anomaly) {
	if _, err := s.generator.HandleAnomaly(ctx, a); err != nil {
		s.logger.Error(ctx, err, "anomaly incident failed",
			"shipment_ref", a.ShipmentRef, "kind", string(a.Kind))
	}
}

func (s *Service) onConflictResolved(ctx context.Context, _, shipmentRef string) {
	go func(ctx context.Context) {
		if err := s.generator.ResolveConflict(ctx, shipmentRef); err != nil {
			s.logger.Error(ctx, err, "conflict auto-close failed", "shipment_ref", shipmentRef)
		}
	}(context.WithoutCancel(ctx))
}

func (s *Service) onBreach(ctx context.Context, b *sla.Breach) {
	if s.hooks.OnBreach != nil {
		s.hooks.OnBreach()
	}
	go s.raiseBreach(context.WithoutCancel(ctx), b)
}

func (s *Service) raiseBreach(ctx context.Context, b *sla.Breach) {
	if _, err := s.generator.HandleBreach(ctx, b); err != nil {
		s.logger.Error(ctx, err, "breach incident failed", "shipment_ref", b.ShipmentRef)
	}
}

func (s *Service) onInterval(_ context.Context, sample *sla.IntervalSample) {
	if s.hooks.OnInterval != nil {
		s.hooks.OnInterval(sample.OnTime)
	}
	s.kpis.RecordInterval(sample.PartnerID, sample.OnTime, sample.At)
}

func (s *Service) onIncidentOpened(ctx context.Context, inc *incident.Incident) {
	if s.hooks.OnIncidentOpened != nil {
		s.hooks.OnIncidentOpened(string(inc.Kind), string(inc.Severity))
	}
	s.kpis.RecordIncident(inc.PartnerID, inc.OpenedAt)
}

func (s *Service) onIncidentClosed(_ context.Context, inc *incident.Incident) {
	if s.hooks.OnIncidentClosed != nil {
		s.hooks.OnIncidentClosed(string(inc.Kind))
	}
}
