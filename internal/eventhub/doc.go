// Package eventhub fans agent events out to live subscribers.
//
// The agent manager persists each event and then calls its listeners. The
// hub is one such listener: it copies every event into the buffered channel
// of each matching subscriber, dropping it for subscribers that have fallen
// behind. The gateway's SSE endpoint is the main consumer.
//
//	hub := eventhub.New(logger)
//	mgr.OnEvent(hub.Publish)
//	ch, _ := hub.Subscribe(r.Context(), agentID)
package eventhub
