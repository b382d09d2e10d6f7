// Package metrics wraps github.com/prometheus/client_golang: package-level
// gauges/counters/histograms registered at init, plus a ticker-driven
// Collector that samples the engine's live components (cache, global
// transaction table, write-ahead log, checkpointer, LSM manager) and
// republishes their counters as Prometheus series. The core always
// computes the underlying numbers itself; this package only samples
// and exposes them.
package metrics
