// Package serialreader feeds telegrams from the S0PCM device into the
// accounting state.
//
// The reader holds off until startup recovery has released its gate;
// processing a telegram against pre-recovery zero state would corrupt the
// totals. After that it owns the port lifecycle: open with the configured
// line settings, accumulate lines, classify and decode, apply. A read
// timeout or read error closes the port and reopens it with backoff, since
// the device sends a telegram every 10 seconds and silence means the
// connection is dead.
package serialreader
