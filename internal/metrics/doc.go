// Package metrics defines the Prometheus collectors for chiprank.
//
// Collectors are registered against a caller-supplied registerer so tests
// can use a fresh prometheus.NewRegistry. The serve command exposes them
// through Handler when metrics are enabled.
package metrics
