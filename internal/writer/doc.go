// Package writer persists batches of quotes into the classification tables.
//
// A BatchWriter collapses rows that share an instrument and last trade time,
// splits the rest into near-equal chunks and upserts each chunk on a bounded
// worker pool. Every chunk is a single statement, so a chunk either lands
// completely or not at all; the Report tells the caller which log entries are
// safe to acknowledge.
//
// Storage is reached through the Store interface. PGStore is the PostgreSQL
// implementation; rows are keyed on (exchange_segment, security_id, ltt) and
// a conflict overwrites every non-key column.
package writer
