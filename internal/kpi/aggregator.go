// Package kpi maintains per-partner sliding-window performance indicators.
//
// Each partner gets a fixed-capacity ring of recent samples. Counters are
// adjusted on insert and evict, so recording and reading snapshots are both
// O(1) in the window size.
package kpi

import (
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

// DefaultWindowSize is the per-partner sample capacity when none is configured.
const DefaultWindowSize = 100

type sampleKind int

const (
	sampleInterval sampleKind = iota
	sampleTransit
	sampleIncident
)

type sample struct {
	kind    sampleKind
	onTime  bool
	transit time.Duration
	at      time.Time
}

// Snapshot is a point-in-time KPI read for one partner.
type Snapshot struct {
	PartnerID string `json:"partner_id"`

	// Window bounds: timestamps of the oldest and newest retained samples.
	WindowStart time.Time `json:"window_start,omitzero"`
	WindowEnd   time.Time `json:"window_end,omitzero"`

	SampleCount int `json:"sample_count"`

	// Interval samples: on-time rate over SLA-monitored legs.
	OnTimeRate    float64 `json:"on_time_rate"`
	OnTimeCount   int     `json:"on_time_count"`
	BreachedCount int     `json:"breached_count"`

	// Transit samples: average pickup-to-delivered duration.
	AvgTransitMillis int64 `json:"avg_transit_millis"`

	IncidentCount int `json:"incident_count"`
}

type window struct {
	mu   sync.Mutex
	ring []sample
	head int // index of the oldest sample
	size int

	intervals  int
	onTime     int
	transitSum time.Duration
	transitN   int
	incidents  int
}

// Aggregator tracks KPI windows for all partners.
type Aggregator struct {
	capacity int

	mu      sync.RWMutex
	windows map[string]*window
}

// New creates an Aggregator with the given per-partner window capacity.
func New(capacity int) *Aggregator {
	if capacity <= 0 {
		panic(xerrors.New("kpi: capacity must be positive"))
	}
	return &Aggregator{
		capacity: capacity,
		windows:  make(map[string]*window),
	}
}

// RecordInterval records one SLA-monitored leg outcome for a partner.
func (a *Aggregator) RecordInterval(partnerID string, onTime bool, at time.Time) {
	a.window(partnerID).add(sample{kind: sampleInterval, onTime: onTime, at: at})
}

// RecordTransit records a completed pickup-to-delivered duration.
func (a *Aggregator) RecordTransit(partnerID string, transit time.Duration, at time.Time) {
	a.window(partnerID).add(sample{kind: sampleTransit, transit: transit, at: at})
}

// RecordIncident records an incident opened against a partner.
func (a *Aggregator) RecordIncident(partnerID string, at time.Time) {
	a.window(partnerID).add(sample{kind: sampleIncident, at: at})
}

// Snapshot returns the current KPIs for a partner. An unknown partner gets an
// empty snapshot rather than an error.
func (a *Aggregator) Snapshot(partnerID string) Snapshot {
	a.mu.RLock()
	w := a.windows[partnerID]
	a.mu.RUnlock()
	if w == nil {
		return Snapshot{PartnerID: partnerID}
	}
	return w.snapshot(partnerID)
}

func (a *Aggregator) window(partnerID string) *window {
	a.mu.RLock()
	w := a.windows[partnerID]
	a.mu.RUnlock()
	if w != nil {
		return w
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if w = a.windows[partnerID]; w == nil {
		w = &window{ring: make([]sample, a.capacity)}
		a.windows[partnerID] = w
	}
	return w
}

func (w *window) add(s sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == len(w.ring) {
		w.remove(w.ring[w.head])
		w.head = (w.head + 1) % len(w.ring)
		w.size--
	}
	w.ring[(w.head+w.size)%len(w.ring)] = s
	w.size++
	w.apply(s)
}

func (w *window) apply(s sample) {
	switch s.kind {
	case sampleInterval:
		w.intervals++
		if s.onTime {
			w.onTime++
		}
	case sampleTransit:
		w.transitSum += s.transit
		w.transitN++
	case sampleIncident:
		w.incidents++
	}
}

func (w *window) remove(s sample) {
	switch s.kind {
	case sampleInterval:
		w.intervals--
		if s.onTime {
			w.onTime--
		}
	case sampleTransit:
		w.transitSum -= s.transit
		w.transitN--
	case sampleIncident:
		w.incidents--
	}
}

func (w *window) snapshot(partnerID string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		PartnerID:     partnerID,
		SampleCount:   w.size,
		OnTimeCount:   w.onTime,
		BreachedCount: w.intervals - w.onTime,
		IncidentCount: w.incidents,
	}
	if w.size > 0 {
		snap.WindowStart = w.ring[w.head].at
		snap.WindowEnd = w.ring[(w.head+w.size-1)%len(w.ring)].at
	}
	if w.intervals > 0 {
		snap.OnTimeRate = float64(w.onTime) / float64(w.intervals)
	}
	if w.transitN > 0 {
		snap.AvgTransitMillis = (w.transitSum / time.Duration(w.transitN)).Milliseconds()
	}
	return snap
}
