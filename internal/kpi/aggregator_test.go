package kpi

import (
	"sync"
	"testing"
	"time"
)

func TestOnTimeRateExact(t *testing.T) {
	t.Parallel()

	a := New(DefaultWindowSize)
	at := time.Now().UTC()
	for i := 0; i < 10; i++ {
		a.RecordInterval("acme", i < 7, at.Add(time.Duration(i)*time.Second))
	}

	snap := a.Snapshot("acme")
	if snap.SampleCount != 10 {
		t.Errorf("SampleCount = %d, want 10", snap.SampleCount)
	}
	if snap.OnTimeCount != 7 {
		t.Errorf("OnTimeCount = %d, want 7", snap.OnTimeCount)
	}
	if snap.BreachedCount != 3 {
		t.Errorf("BreachedCount = %d, want 3", snap.BreachedCount)
	}
	if snap.OnTimeRate != 0.7 {
		t.Errorf("OnTimeRate = %v, want 0.7", snap.OnTimeRate)
	}
}

func TestEvictionAdjustsCounters(t *testing.T) {
	t.Parallel()

	a := New(3)
	at := time.Now().UTC()

	// Fill: breach, on-time, on-time.
	a.RecordInterval("acme", false, at)
	a.RecordInterval("acme", true, at.Add(time.Second))
	a.RecordInterval("acme", true, at.Add(2*time.Second))

	// Overflow evicts the oldest (the breach).
	a.RecordInterval("acme", true, at.Add(3*time.Second))

	snap := a.Snapshot("acme")
	if snap.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", snap.SampleCount)
	}
	if snap.OnTimeCount != 3 || snap.BreachedCount != 0 {
		t.Errorf("OnTime/Breached = %d/%d, want 3/0 after evicting the breach", snap.OnTimeCount, snap.BreachedCount)
	}
	if snap.OnTimeRate != 1.0 {
		t.Errorf("OnTimeRate = %v, want 1.0", snap.OnTimeRate)
	}
	if !snap.WindowStart.Equal(at.Add(time.Second)) {
		t.Errorf("WindowStart = %v, want %v", snap.WindowStart, at.Add(time.Second))
	}
	if !snap.WindowEnd.Equal(at.Add(3 * time.Second)) {
		t.Errorf("WindowEnd = %v, want %v", snap.WindowEnd, at.Add(3*time.Second))
	}
}

func TestEvictionAcrossSampleKinds(t *testing.T) {
	t.Parallel()

	a := New(2)
	at := time.Now().UTC()

	a.RecordTransit("acme", 4*time.Hour, at)
	a.RecordIncident("acme", at.Add(time.Second))
	// Evicts the transit sample.
	a.RecordInterval("acme", true, at.Add(2*time.Second))

	snap := a.Snapshot("acme")
	if snap.AvgTransitMillis != 0 {
		t.Errorf("AvgTransitMillis = %d, want 0 after transit evicted", snap.AvgTransitMillis)
	}
	if snap.IncidentCount != 1 {
		t.Errorf("IncidentCount = %d, want 1", snap.IncidentCount)
	}
	if snap.OnTimeCount != 1 {
		t.Errorf("OnTimeCount = %d, want 1", snap.OnTimeCount)
	}
}

func TestTransitAverage(t *testing.T) {
	t.Parallel()

	a := New(DefaultWindowSize)
	at := time.Now().UTC()

	a.RecordTransit("acme", 2*time.Hour, at)
	a.RecordTransit("acme", 4*time.Hour, at.Add(time.Second))

	snap := a.Snapshot("acme")
	if want := (3 * time.Hour).Milliseconds(); snap.AvgTransitMillis != want {
		t.Errorf("AvgTransitMillis = %d, want %d", snap.AvgTransitMillis, want)
	}
}

func TestUnknownPartnerEmptySnapshot(t *testing.T) {
	t.Parallel()

	snap := New(DefaultWindowSize).Snapshot("nobody")
	if snap.PartnerID != "nobody" {
		t.Errorf("PartnerID = %q, want %q", snap.PartnerID, "nobody")
	}
	if snap.SampleCount != 0 || snap.OnTimeRate != 0 || snap.IncidentCount != 0 {
		t.Errorf("Snapshot = %+v, want zero counters", snap)
	}
	if !snap.WindowStart.IsZero() || !snap.WindowEnd.IsZero() {
		t.Errorf("window bounds = %v..%v, want zero", snap.WindowStart, snap.WindowEnd)
	}
}

func TestPartnersAreIsolated(t *testing.T) {
	t.Parallel()

	a := New(DefaultWindowSize)
	at := time.Now().UTC()
	a.RecordInterval("acme", false, at)
	a.RecordIncident("globex", at)

	if snap := a.Snapshot("acme"); snap.IncidentCount != 0 || snap.BreachedCount != 1 {
		t.Errorf("acme snapshot = %+v, want 1 breach, 0 incidents", snap)
	}
	if snap := a.Snapshot("globex"); snap.IncidentCount != 1 || snap.SampleCount != 1 {
		t.Errorf("globex snapshot = %+v, want 1 incident sample", snap)
	}
}

func TestConcurrentRecords(t *testing.T) {
	t.Parallel()

	const perKind = 200
	a := New(3 * perKind)
	at := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < perKind; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.RecordInterval("acme", i%2 == 0, at)
			a.RecordTransit("acme", time.Hour, at)
			a.RecordIncident("acme", at)
		}(i)
	}
	wg.Wait()

	snap := a.Snapshot("acme")
	if snap.SampleCount != 3*perKind {
		t.Errorf("SampleCount = %d, want %d", snap.SampleCount, 3*perKind)
	}
	if snap.OnTimeCount != perKind/2 {
		t.Errorf("OnTimeCount = %d, want %d", snap.OnTimeCount, perKind/2)
	}
	if snap.IncidentCount != perKind {
		t.Errorf("IncidentCount = %d, want %d", snap.IncidentCount, perKind)
	}
	if want := time.Hour.Milliseconds(); snap.AvgTransitMillis != want {
		t.Errorf("AvgTransitMillis = %d, want %d", snap.AvgTransitMillis, want)
	}
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("New(0) should panic")
		}
	}()
	New(0)
}
