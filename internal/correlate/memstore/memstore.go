// Package memstore provides an in-memory implementation of
// correlate.ShipmentStore. Suitable for dev/testing.
package memstore

import (
	"context"
	"sync"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
)

// Store holds shipments in memory, keyed by shipment ref.
type Store struct {
	mu        sync.RWMutex
	shipments map[string]*correlate.Shipment
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{shipments: make(map[string]*correlate.Shipment)}
}

// Get retrieves a shipment by ref. Returns a copy.
func (s *Store) Get(_ context.Context, ref string) (*correlate.Shipment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[ref]
	if !ok {
		return nil, false, nil
	}
	return sh.Clone(), true, nil
}

// Put stores a copy of the shipment.
func (s *Store) Put(_ context.Context, sh *correlate.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[sh.Ref] = sh.Clone()
	return nil
}
