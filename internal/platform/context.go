package platform

import (
	"github.com/viettran-edgeAI/rfcore/internal/alloc"
	"github.com/viettran-edgeAI/rfcore/internal/storagefs"
)

// Context bundles the collaborators public entry points need, replacing
// the teacher corpus's process-wide globals (spec §9 "global state"). On a
// single-threaded MCU target this is a zero-cost handle to statics created
// once at boot; hosts may create many independent Contexts.
type Context struct {
	Clock   *Clock
	Entropy *Entropy
	Debug   *DebugSink
	Alloc   alloc.Allocator
	FS      storagefs.FileSystem
}

// NewHostContext builds a Context suitable for host-side tests and the CLI
// driver: a host allocator, the given filesystem (which may be nil), a real
// clock, an Entropy seeded with seed, and a debug sink at the requested
// level.
func NewHostContext(fs storagefs.FileSystem, seed uint64, level DebugLevel) *Context {
	return &Context{
		Clock:   NewClock(),
		Entropy: NewEntropy(seed),
		Debug:   NewDebugSink(level),
		Alloc:   alloc.NewHostAllocator(),
		FS:      fs,
	}
}
