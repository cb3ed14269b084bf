// Package protocol implements the S0PCM serial telegram format.
//
// The S0PCM (S0 Pulse Counter Module) reports pulse counters over a serial
// line as colon-delimited ASCII telegrams, one per line:
//
//	Header (once, after device start-up):
//	  /8237:S0 Pulse Counter V0.6 - 30/30/30/30/30ms
//
//	Data (repeated every interval):
//	  S0PCM-2: ID:a:I:b:M1:c:d:M2:e:f            (10 fields)
//	  S0PCM-5: ID:a:I:b:M1:c:d:M2:e:f:...:M5:k:l (19 fields)
//
// Where a is the device id, b the telegram interval in seconds, c/e/... the
// pulses counted in the last interval, and d/f/... the lifetime pulse count
// since device start-up. Only the lifetime count is retained; the interval
// count is redundant and less reliable across lost telegrams.
//
// Parsing is fail-fast: a telegram with a bad field count, a misplaced
// channel marker, or a non-numeric lifetime count is rejected as a whole so
// that a garbled frame never partially updates the accounting state.
//
// All functions are stateless and safe for concurrent use.
package protocol
