// Package platform collects the thin, narrow collaborators the rest of the
// runtime needs from its host: wall time, entropy, and a leveled diagnostic
// sink. Everything here is a handle passed explicitly to entry points rather
// than global state, so host tests can run many independent runtimes in
// parallel.
package platform

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// DebugLevel gates the diagnostic sink. Level 0 suppresses everything,
// level 3 emits per-chunk and per-tree traces (spec §7).
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugError
	DebugInfo
	DebugTrace
)

// Clock provides wall time and a monotonic elapsed-time helper used by
// forest warm-up/predict timing.
type Clock struct {
	now func() time.Time
}

// NewClock returns a Clock backed by the system time.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current time.
func (c *Clock) Now() time.Time { return c.now() }

// ElapsedMicros returns the microseconds elapsed since start.
func (c *Clock) ElapsedMicros(start time.Time) int64 {
	return c.now().Sub(start).Microseconds()
}

// Entropy is a seedable source of randomness for bagging and per-node
// feature sampling. It wraps math/rand/v2's PCG generator so that a fixed
// seed reproduces identical bags and splits across runs.
type Entropy struct {
	rng *rand.Rand
}

// NewEntropy returns an Entropy seeded deterministically from seed.
func NewEntropy(seed uint64) *Entropy {
	return &Entropy{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN returns a pseudo-random integer in [0, n).
func (e *Entropy) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return e.rng.IntN(n)
}

// Float64 returns a pseudo-random float in [0, 1).
func (e *Entropy) Float64() float64 {
	return e.rng.Float64()
}

// Perm returns a pseudo-random permutation of [0, n).
func (e *Entropy) Perm(n int) []int {
	return e.rng.Perm(n)
}

// DebugSink is the leveled diagnostic sink of spec §7, backed by zap.
type DebugSink struct {
	level  DebugLevel
	logger *zap.SugaredLogger
}

// NewDebugSink builds a DebugSink at the given level. Level 0 installs a
// no-op zap core so callers never pay logging cost on the hot path.
func NewDebugSink(level DebugLevel) *DebugSink {
	var logger *zap.Logger
	if level == DebugNone {
		logger = zap.NewNop()
	} else {
		cfg := zap.NewProductionConfig()
		logger, _ = cfg.Build()
	}
	return &DebugSink{level: level, logger: logger.Sugar()}
}

// Level reports the sink's configured debug level.
func (d *DebugSink) Level() DebugLevel { return d.level }

// Errorf logs a level>=1 diagnostic.
func (d *DebugSink) Errorf(format string, args ...any) {
	if d.level >= DebugError {
		d.logger.Errorf(format, args...)
	}
}

// Infof logs a level>=2 diagnostic.
func (d *DebugSink) Infof(format string, args ...any) {
	if d.level >= DebugInfo {
		d.logger.Infof(format, args...)
	}
}

// Tracef logs a level>=3 per-chunk/per-tree diagnostic.
func (d *DebugSink) Tracef(format string, args ...any) {
	if d.level >= DebugTrace {
		d.logger.Debugf(format, args...)
	}
}

// Sync flushes any buffered log entries.
func (d *DebugSink) Sync() error {
	return d.logger.Sync()
}
