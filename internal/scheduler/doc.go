// Package scheduler runs behavior jobs either on a cron expression or once.
//
// Cron is the production implementation on robfig/cron/v3. Manual is a
// deterministic fake: jobs only run when a test calls RunPending or Tick.
// Every job receives a context that is cancelled with its Handle.
package scheduler
