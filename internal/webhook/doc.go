// Package webhook delivers monitor and parser captures to external HTTP
// endpoints. Delivery is best-effort: Send never reports failure to the
// caller, and a per-URL circuit breaker stops hammering dead endpoints.
package webhook
