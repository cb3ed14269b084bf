// Package meter holds the shared accounting state for all pulse channels and
// the coordinator that every worker goes through.
//
// The Coordinator owns one mutex-guarded State (accounting date plus one
// Meter record per channel) and a snapshot of it that is refreshed on every
// change and handed to the MQTT publisher without holding the lock across
// I/O. It also carries the startup gate (recovery must finish before the
// first telegram is processed), the level-triggered publish signal, and the
// two-category error aggregator.
//
// The accounting engine (ApplyTelegram) converts raw monotonic device
// counters into cumulative/daily totals: day rollovers move today into
// yesterday once per telegram, counter increases are added as deltas, and
// counter decreases are treated as a device restart with the whole new
// reading counted as fresh pulses.
package meter
