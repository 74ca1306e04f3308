package edi

import "time"

// TxType is a recognized shipment lifecycle transaction type.
type TxType string

const (
	// TxPickup marks the shipment as picked up by the carrier.
	TxPickup TxType = "pickup"

	// TxInTransit marks the shipment as moving between facilities.
	TxInTransit TxType = "in_transit"

	// TxDelivered marks the shipment as delivered to the consignee.
	TxDelivered TxType = "delivered"

	// TxClosed settles the shipment (e.g. a 210/997-style closing document).
	TxClosed TxType = "closed"

	// TxException reports a carrier exception. Always accepted.
	TxException TxType = "exception"
)

// Transaction is a normalized EDI transaction event. Immutable once
// produced by Normalize.
type Transaction struct {
	TransactionID string            `json:"transaction_id"`
	PartnerID     string            `json:"partner_id"`
	ShipmentRef   string            `json:"shipment_ref"`
	Type          TxType            `json:"type"`
	DocType       string            `json:"doc_type,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Payload       map[string]string `json:"payload,omitempty"`
}
