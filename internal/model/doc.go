// Package model defines shared data types used across tickvault.
//
// Conventions:
//   - Prices: float64 rounded to 4 decimal places at decode time
//   - Last trade time (LTT): uint32 seconds since Unix epoch, as sent by the exchange
//   - Instruments: identified by InstrumentKey (exchange segment + security ID)
//   - Optional side-channel fields (open interest, previous close) are pointers; nil means unset
package model
