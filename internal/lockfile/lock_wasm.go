//go:build js && wasm

package lockfile

import "os"

// WASM is single-process, so every lock call is a no-op.

// FlockSharedNonBlock is a no-op in WASM.
func FlockSharedNonBlock(f *os.File) error { return nil }

// FlockExclusiveNonBlock is a no-op in WASM.
func FlockExclusiveNonBlock(f *os.File) error { return nil }

// FlockSharedBlocking is a no-op in WASM.
func FlockSharedBlocking(f *os.File) error { return nil }

// FlockExclusiveBlocking is a no-op in WASM.
func FlockExclusiveBlocking(f *os.File) error { return nil }

// FlockUnlock is a no-op in WASM.
func FlockUnlock(f *os.File) error { return nil }
