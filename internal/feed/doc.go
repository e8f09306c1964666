// Package feed maintains WebSocket connections to the market data feed.
//
// A Client owns one socket: it dials, answers and sends pings, detects stale
// connections and delivers timestamped frames. A Connection drives a sequence
// of Clients through the connect/subscribe/stream/reconnect cycle, keeps the
// subscription set across reconnects, decodes frames, merges open interest
// and previous close into quotes, and hands events to the broker.
package feed
