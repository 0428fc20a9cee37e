// Package gateway serves the openclaw HTTP API in front of the agent pool.
//
// # Overview
//
// The gateway owns every long-lived component: the store, the agent
// manager, the cron scheduler, the webhook dispatcher, the event hub, the
// optional redis relay and the Prometheus registry. New builds them from
// config; Run loads persisted agents, serves HTTP and tears everything down
// when its context ends.
//
// # HTTP API
//
// Public:
//
//   - GET /health - Liveness check with running agent count
//   - GET /health/ready - 200 once persisted agents are loaded
//   - GET /metrics - Prometheus metrics (when metrics.enabled)
//
// Any valid token:
//
//   - GET /api/agents - List agents (credentials masked)
//   - GET /api/agents/{id} - One agent
//   - GET /api/agents/{id}/events - Logged events, newest first
//   - GET /api/agents/{id}/parsed - Parsed items, newest first
//   - GET /api/events - Logged events across agents (?agent_id= filters)
//   - GET /api/events/stream - Live SSE stream (?agent_id= filters)
//   - GET /api/tools - Tool names
//
// Admin role:
//
//   - POST /api/agents - Create an agent ("start": true starts it)
//   - DELETE /api/agents/{id}
//   - POST /api/agents/{id}/start, /stop, /restart
//   - PUT /api/agents/{id}/behaviors - Replace and hot-swap behaviors
//   - POST /api/agents/{id}/auth/start - Send a login code (session agents)
//   - POST /api/agents/{id}/auth/submit - Submit code and optional 2FA password
//   - POST /api/agents/{id}/tools/{tool} - Run a tool; body is its JSON arguments
//
// # Errors
//
// Errors are JSON objects with an "error" field. Unknown agents are 404,
// invalid input or unsupported calls are 400, calls that conflict with
// the agent's state are 409, transport failures are 502 and store failures
// are 500.
//
// # SSE Streaming
//
// The stream starts with a "ready" event, then one event per agent event
// named after its type (message_in, message_out, parsed_item,
// status_change, error):
//
//	event: status_change
//	data: {"id":"...","agent_id":"...","type":"status_change","payload":{"status":"running"},...}
//
// EventSource clients pass the token as ?access_token=.
package gateway
