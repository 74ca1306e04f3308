// Package correlate maintains the per-shipment state machine at the heart
// of the control tower. It applies normalized transactions in causal order,
// detects duplicates and out-of-order arrivals, buffers skip-ahead
// transactions for a bounded reordering window, and emits transition and
// anomaly events to the SLA monitor, incident generator, and KPI aggregator.
package correlate
