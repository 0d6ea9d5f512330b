// Package sqlite persists identities, OTP records, vault entries and notes
// in SQLite through the pure-Go modernc.org/sqlite driver.
//
// # Connections
//
// [DB] pairs a single-connection writer pool with a four-connection reader
// pool. File databases run in WAL mode. Schema changes are embedded SQL
// migrations applied by [RunMigrations] through golang-migrate.
//
// # Stored values
//
// Repositories store exactly what the engine hands them. Sealed fields stay
// sealed; the repositories never see a cipher key. Timestamps are RFC 3339
// text in UTC.
//
// # What this package must NOT do
//
//   - Encrypt, decrypt or hash anything.
//   - Decide ownership; the engine checks owner ids before writing.
package sqlite
