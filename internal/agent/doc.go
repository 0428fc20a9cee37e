// Package agent manages the pool of messaging bot agents and their behaviors.
//
// # Overview
//
// Each agent is one bot or userbot identity with a persisted record, a live
// transport while running, and a declarative list of behaviors. The package
// owns the lifecycle state machine, the behavior engine and the pool manager.
// Persistence and the wire transports sit behind interfaces.
//
// # Manager
//
// The Manager owns one Agent per id:
//
//	mgr, err := agent.NewManager(agent.Options{
//	    Store:     st,
//	    Dialer:    dialer,
//	    Scheduler: scheduler.NewCron(logger),
//	    Logger:    logger,
//	})
//	err = mgr.Init(ctx)
//
// Key operations:
//
//   - Create(ctx, name, creds, behaviors): Persist a new stopped agent
//   - Start / Stop / Restart(ctx, id): Drive the state machine
//   - SetBehaviors(ctx, id, list): Replace behaviors, hot-swapping a running agent
//   - AuthStart / AuthSubmit: Interactive login for session agents
//   - CallTool(ctx, id, tool, args): Run one transport operation
//   - OnEvent(listener): Receive every event from every agent
//   - Shutdown(ctx): Stop all agents concurrently
//
// Reads return masked credentials.
//
// # State Machine
//
//	stopped -> starting -> running -> stopped
//	                    \-> error  -> starting (on the next Start)
//
// Every transition is written to the store before it is applied in memory,
// then announced as a status_change event. Start is a no-op for a running
// agent and Stop is idempotent. A session agent whose stored session is not
// authorized ends in error without Start returning an error.
//
// # Behaviors
//
// At most one behavior of each kind is active, the first enabled one in the
// list:
//
//   - auto_reply: template or AI replies with per-chat cooldown and bounded history
//   - monitor: captures matching posts to the store and a webhook
//   - broadcast: sends one message to many targets, once or on a cron schedule
//   - parser: one-shot fetch of history and members (session agents only)
//
// Behaviors are registered as a unit. A hot-swap cancels every job, stops the
// update pump and cycles the transport before registering the new list, so no
// stale handler survives. Each registration carries a generation number and
// work from an older generation is discarded.
//
// # Events
//
// Agents emit message_in, message_out, parsed_item, status_change and error
// events into one buffered channel. A single dispatcher writes each event to
// the store log, then calls listeners in order. Events from one agent keep
// their emission order.
//
// # Thread Safety
//
// Manager and Agent are safe for concurrent use. Lifecycle calls on one agent
// are serialized; message handlers and scheduled jobs never block them.
package agent
