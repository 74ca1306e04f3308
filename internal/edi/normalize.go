// Package edi defines the canonical transaction model and the normalizer
// that turns raw partner payloads into it. Normalization is pure and fails
// closed: a payload that cannot be normalized is never forwarded downstream.
package edi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ValidationError describes why a raw payload could not be normalized.
// It is surfaced to the caller (e.g. for dead-letter logging) and never
// retried internally.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s: %s", e.Field, e.Reason)
}

// rawMessage is the wire shape delivered by ingestion adapters.
type rawMessage struct {
	TransactionID string            `json:"transaction_id"`
	PartnerID     string            `json:"partner_id"`
	ShipmentRef   string            `json:"shipment_ref"`
	Type          string            `json:"type"`
	DocType       string            `json:"doc_type"`
	Timestamp     string            `json:"timestamp"`
	Payload       map[string]string `json:"payload"`
}

var knownTypes = map[TxType]bool{
	TxPickup:    true,
	TxInTransit: true,
	TxDelivered: true,
	TxClosed:    true,
	TxException: true,
}

// Normalize parses a raw adapter payload into a Transaction. The returned
// error is always a *ValidationError.
func Normalize(raw []byte) (*Transaction, error) {
	var m rawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: "not valid JSON"}
	}

	if strings.TrimSpace(m.TransactionID) == "" {
		return nil, &ValidationError{Field: "transaction_id", Reason: "missing"}
	}
	if strings.TrimSpace(m.PartnerID) == "" {
		return nil, &ValidationError{Field: "partner_id", Reason: "missing"}
	}
	if strings.TrimSpace(m.ShipmentRef) == "" {
		return nil, &ValidationError{Field: "shipment_ref", Reason: "missing"}
	}

	typ := TxType(strings.ToLower(strings.TrimSpace(m.Type)))
	if !knownTypes[typ] {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown transaction type %q", m.Type)}
	}

	if strings.TrimSpace(m.Timestamp) == "" {
		return nil, &ValidationError{Field: "timestamp", Reason: "missing"}
	}
	ts, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return nil, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("unparsable: %q", m.Timestamp)}
	}

	return &Transaction{
		TransactionID: strings.TrimSpace(m.TransactionID),
		PartnerID:     strings.TrimSpace(m.PartnerID),
		ShipmentRef:   strings.TrimSpace(m.ShipmentRef),
		Type:          typ,
		DocType:       strings.TrimSpace(m.DocType),
		Timestamp:     ts.UTC(),
		Payload:       m.Payload,
	}, nil
}
