// Package consumer moves quotes from the durable log into storage.
//
// A Consumer reads as one named member of a consumer group. On start it
// recovers: entries delivered to its own name but never acknowledged are
// replayed first, then entries left idle by other members (crashed
// persisters) are claimed. It then tails new entries until stopped.
//
// Every entry goes through the same path: parse, classify, buffer. Entries
// that cannot be parsed or routed are acknowledged at once and never reach
// storage. Buffered rows are acknowledged only after the chunk that carried
// them was written, so a failed or interrupted write leaves its entries
// pending for the next recovery. Storage upserts make the resulting
// redelivery harmless.
package consumer
