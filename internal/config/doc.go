// Package config handles configuration loading for openclaw.
//
// # Configuration File
//
// The file is located in this order:
//
//  1. Path given with --config
//  2. Path from the OPENCLAW_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/openclaw/config.yaml (~/.config/openclaw/config.yaml)
//
// A .env file in the working directory is loaded into the environment first.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${OPENCLAW_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"            # sqlite, postgres
//	  path: "/var/lib/openclaw/agents.db"
//	  url: "${DATABASE_URL}"      # postgres only
//
//	auth:
//	  jwt_secret: "${OPENCLAW_JWT_SECRET}"  # at least 32 bytes
//
//	agents:
//	  restart_delay: "1s"
//	  history_limit: 20
//	  event_text_limit: 200
//	  event_buffer: 256
//
//	telegram:                     # needed for session agents
//	  api_id: 12345
//	  api_hash: "${TELEGRAM_API_HASH}"
//
//	completion:
//	  provider: "openai"          # openai, echo
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	  timeout: "30s"
//
//	webhooks:
//	  timeout: "10s"
//
//	relay:
//	  redis_url: "redis://localhost:6379/0"
//	  channel: "openclaw:events"
//
//	ratelimit:
//	  rps: 10
//	  burst: 20
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use Go's time.ParseDuration syntax.
package config
