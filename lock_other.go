//go:build !(unix || linux || darwin)

// No-op advisory lock for platforms without flock(2). The engine's own
// concurrency model is already strictly single-threaded per open file
// (spec.md 5); this is only an extra guard against a second process
// opening the same path, so a silent no-op is an acceptable fallback.
package isam

func flockExclusive(fd uintptr) error { return nil }

func funlock(fd uintptr) error { return nil }
