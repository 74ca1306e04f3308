// Package engine wires the processing pipeline: normalized transactions flow
// into the correlator, whose transitions drive the SLA monitor and KPI
// windows, and whose anomalies and breaches drive the incident generator.
//
// Incident handlers are dispatched on their own goroutines because they
// re-enter the per-shipment lock; everything else runs synchronously inside
// the correlator's hooks.
package engine
