/*
Package sandbox runs guest game logic deterministically, one tick at a time.

A Runtime owns one guest. Each RunTick resumes the guest until it presents,
answering every request it makes along the way, and returns the calls
(draws, sounds, exit) the host should perform. Between ticks the whole guest
can be serialized, restored or duplicated, which is what rollback and replay
are built on.

# Lifecycle

  - Load: decode, validate, run init code, run the entry to its first suspension.
  - RunTick: step until Present; a fault poisons the runtime.
  - Send: queue a response (typically a player event) for the guest to poll.
  - Serialize / Deserialize / Duplicate: only between ticks.

Instance exposes the single-step primitive underneath, for hosts that want
to answer requests with their own dispatch.Provider.
*/
package sandbox
