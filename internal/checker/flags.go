package checker

// Flags alter how a single check behaves.
type Flags int

const (
	// NoCrawlDelay skips the per-domain throttle.
	NoCrawlDelay Flags = 1 << iota
	// NoCacheOnError re-checks targets whose cached result is broken.
	NoCacheOnError
	// NoCache ignores the result cache entirely.
	NoCache
	// Synchronous marks an interactive re-check, which uses the long cache TTL.
	Synchronous
)

// Has reports whether all bits of o are set.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}
