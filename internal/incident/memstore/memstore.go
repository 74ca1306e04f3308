// Package memstore provides an in-memory implementation of incident.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/venkata-adulla/edi-control-tower/internal/incident"
)

type liveKey struct {
	ref  string
	kind incident.Kind
}

// Store holds incidents in memory.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> incident
	live      map[liveKey]string            // (ref, kind) -> live incident ID (dedup)
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		live:      make(map[liveKey]string),
	}
}

// Get retrieves an incident by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// GetLive retrieves the live incident for a (shipmentRef, kind) pair.
// Returns a copy.
func (s *Store) GetLive(_ context.Context, ref string, kind incident.Kind) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.live[liveKey{ref, kind}]
	if !ok {
		return nil, false, nil
	}
	return s.incidents[id].Clone(), true, nil
}

// Put stores a copy of the incident and maintains the live index.
func (s *Store) Put(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc.Clone()
	key := liveKey{inc.ShipmentRef, inc.Kind}
	if inc.Live() {
		s.live[key] = inc.ID
	} else if s.live[key] == inc.ID {
		delete(s.live, key)
	}
	return nil
}

// ListOpen returns live incidents matching the filter, newest first.
func (s *Store) ListOpen(_ context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, inc := range s.incidents {
		if !inc.Live() {
			continue
		}
		if f.PartnerID != "" && inc.PartnerID != f.PartnerID {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return out, nil
}
