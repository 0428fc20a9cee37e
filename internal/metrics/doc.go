// Package metrics exposes Prometheus counters for the agent pool.
//
// A Collector is registered as a manager listener and counts every event it
// sees:
//
//	c := metrics.New(reg, mgr.Running)
//	mgr.OnEvent(c.Observe)
//	r.Handle("/metrics", metrics.Handler(reg))
//
// The running_agents gauge is read from the callback on each scrape.
package metrics
