// Package stream adapts Go byte sources to the engine's stream contract.
//
// A Stream is built from an *os.File, any io.Reader, a user Source, or a
// raw engine descriptor. Go-backed streams are consumed by Take, which
// returns an Adapter with the engine's semantics: reads report a count or
// abi.ReadError, skips that run short fail, and close runs exactly once.
// Readers without native skipping discard through a 512-byte buffer.
package stream
