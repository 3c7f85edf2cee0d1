// Package stores provides the local history database for seedkit
// deployments and remote jobs. It includes SQLite-based storage with WAL
// mode, connection pooling, and embedded schema migrations. The store
// records every deployment and job the seeder runs so the CLI can report
// on past activity without calling AWS.
package stores
