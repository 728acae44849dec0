// Package clusterpool caches one Kubernetes client per cluster identifier.
//
// Clients are built lazily by a Factory on first use. Concurrent first
// calls for the same identifier share a single construction, and the pool
// is bounded by a least-recently-used cache whose evictions release the
// client's idle connections.
package clusterpool
