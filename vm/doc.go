// Package vm implements an embedded script virtual machine for a fixed-tick
// simulation.
//
// This package contains:
//   - Module image loading and cross-module linking
//   - Interned string table and sparse script arrays
//   - Word-code interpreter with cooperative threads
//   - Per-tick scheduler and the deferred request queue
//   - Save and restore of the complete execution state
//
// An Environment holds all state. The host implements Host, calls
// EnterMap when a map becomes active and Tick once per simulation tic.
package vm
