// Package registry holds the weekly slot registrations.
//
// A Registry owns one State: for each fixed slot (day + hour) an ordered list
// of members, plus a log of ad-hoc time proposals. Every read and write goes
// through the registry mutex, so capacity checks and appends never interleave
// with another join, cancel or reset. Rejections (slot full, already
// registered, ...) are Outcome values for the caller to render, not errors.
//
// Mutations are written through to a Persister after the lock is released.
// Saves are ordered by a state version, so a slow save can never overwrite a
// newer snapshot. A failed save is logged; the in-memory state stays
// authoritative.
package registry
