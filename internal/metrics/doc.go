// Package metrics defines the Prometheus collectors shared by the feeder and
// persister, and the HTTP mux that serves them alongside /health.
//
// Collectors are package-level and registered with the default registry at
// init, so any package can record without plumbing a registry through.
package metrics
