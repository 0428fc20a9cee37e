// Package store provides persistent storage for the agent pool.
//
// # Architecture
//
// Store is the single persistence contract the agent pool depends on. Two
// durable implementations exist:
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, the default
//   - PostgresStore: pgx connection pool, selected with database.driver=postgres
//
// MockStore is an in-memory implementation for tests with per-method
// failure injection via FailOn.
//
// # Data Models
//
//   - AgentRecord: identity, credentials, lifecycle status, behaviors, stats
//   - Credentials: token or session variant, masked for external reads
//   - Behavior: tagged union of auto_reply, monitor, broadcast and parser configs
//   - Event: one entry in the agent event stream
//   - ParsedItem: captured message or member, append-only
//
// # Consistency
//
// Every method is atomic. Targeted updates (UpdateStatus, UpdateBehaviors,
// UpdateSession, IncrementStat) touch only their columns so concurrent
// writers never clobber each other. DeleteAgent removes the agent, its
// events and its parsed items in one transaction.
//
// # Error Handling
//
//   - ErrNotFound: requested agent does not exist
//   - ErrInvalidCredentials: credential payload does not match its kind
//   - ErrInvalidBehavior: behavior definition is malformed
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(t.TempDir()+"/x.db")
// for integration tests against real SQLite.
package store
