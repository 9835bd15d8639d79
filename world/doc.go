// Package world defines the simulation contract the script runtime drives and
// an in-memory reference implementation.
//
// The runtime reads per-frame snapshots through World.Uniform and applies
// drained script commands through the mutating methods. Memory records every
// applied effect so tests and tools can inspect what scripts did.
package world
