// Package event provides the domain types shared by the eggsync packages.
//
// This package contains type definitions, normalization and identity
// derivation only. All other internal packages import event; event imports
// nothing internal.
//
// Key design constraints:
//   - Sync state only moves forward: pending -> synced or pending -> failed
//   - Remote identity is derived, never assigned: the same (device, local id)
//     pair always maps to the same remote document id
//   - Canonical JSON (NFC strings, sorted keys, no floats) is the only
//     serialization used for identity hashing
package event
