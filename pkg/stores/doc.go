// Package stores keeps a history of configuration loads in SQLite, with
// the parse diagnostics and checker findings of every load. The schema is
// migrated with golang-migrate from embedded SQL files.
package stores
