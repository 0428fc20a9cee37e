// Package relay republishes agent events on a Redis pub/sub channel so
// processes outside the gateway can follow the pool.
//
//	r, err := relay.Dial(ctx, "redis://localhost:6379/0", "openclaw:events", logger)
//	mgr.OnEvent(r.Publish)
//	defer r.Close()
//
// Each message is the JSON encoding of a store.Event. Publishing never blocks
// the manager: events are queued and a single worker sends them in order.
// When the queue is full new events are dropped.
package relay
