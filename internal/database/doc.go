// Package database opens the PostgreSQL pool used by the persister and
// checks that the destination tables exist before any writes.
package database
