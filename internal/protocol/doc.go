// Package protocol implements the binary market-feed wire format.
//
// Server to client: fixed-layout little-endian packets with an 8-byte header
// (response code, message length, exchange segment, security ID). Decode turns
// a packet into one of the model event variants and never fails loudly; short
// or unknown packets are reported as unrecognized.
//
// Client to server: small JSON control messages (subscribe, unsubscribe,
// disconnect), each naming at most MaxInstrumentsPerRequest instruments.
package protocol
