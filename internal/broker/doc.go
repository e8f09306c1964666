// Package broker hands decoded events to downstream consumers.
//
// Two paths with different guarantees:
//   - Publish fans an event out to live subscribers (Redis pub/sub and an
//     optional Kafka mirror). It is best effort: failures are logged and
//     counted, never retried.
//   - Append adds a quote to the durable log (a Redis stream capped with
//     MAXLEN ~). It is retried a bounded number of times; a failure after
//     that is reported to the caller as fatal.
//
// StreamLog is the read side of the durable log, used by consumer groups.
package broker
