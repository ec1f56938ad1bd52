// Package creds provides the layered credential persistence used to keep a
// signed-in identity alive across restarts and network loss.
//
// Two tiers back every operation: tier 1 offers strong at-rest protection
// but may be unavailable (platform permission issues), tier 2 offers weaker
// protection with higher availability. Writes go to both, reads fall
// through from tier 1 to tier 2, and removal clears both independently.
// The session must survive total loss of the strong tier without losing
// login state.
//
// All operations are time-bounded and serialized per adapter instance;
// exceeding a bound is a reported failure, never an unhandled fault.
package creds
