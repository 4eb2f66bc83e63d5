// Package metrics provides per-invocation metrics collection for the
// model pipeline.
//
// The Collector accumulates counters during one CLI invocation. It is
// a leaf package with no internal dependencies; the orchestrator
// increments it and the CLI prints a snapshot at exit.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of pipeline counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Replacement lifecycle
	ReplacementsStarted   int64
	ReplacementsCompleted int64
	ReplacementsAborted   int64
	AbortsByReason        map[string]int64

	// Transfer
	BytesFetched    int64
	FetchFailures   int64
	Conversions     int64
	ConvertFailures int64

	// Probing
	ProbesRun            int64
	ProbeRetries         int64
	IncompatibleByReason map[string]int64

	// Store
	Commits        int64
	Rollbacks      int64
	BackupsEvicted int64

	// Dimensions (informational, set at construction)
	Target    string
	StoreRoot string
}

// Collector accumulates metrics during a single invocation.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver
// safe so call sites never need guards.
type Collector struct {
	mu sync.Mutex

	replacementsStarted   int64
	replacementsCompleted int64
	replacementsAborted   int64
	abortsByReason        map[string]int64

	bytesFetched    int64
	fetchFailures   int64
	conversions     int64
	convertFailures int64

	probesRun            int64
	probeRetries         int64
	incompatibleByReason map[string]int64

	commits        int64
	rollbacks      int64
	backupsEvicted int64

	target    string
	storeRoot string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(target, storeRoot string) *Collector {
	return &Collector{
		abortsByReason:       make(map[string]int64),
		incompatibleByReason: make(map[string]int64),
		target:               target,
		storeRoot:            storeRoot,
	}
}

// ReplacementStarted records a replacement pipeline entering Fetching.
func (c *Collector) ReplacementStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacementsStarted++
}

// ReplacementCompleted records a replacement reaching Done.
func (c *Collector) ReplacementCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacementsCompleted++
}

// ReplacementAborted records an aborted replacement with its reason.
func (c *Collector) ReplacementAborted(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacementsAborted++
	c.abortsByReason[reason]++
}

// BytesFetched adds transferred bytes.
func (c *Collector) BytesFetched(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesFetched += n
}

// FetchFailure records a failed transfer.
func (c *Collector) FetchFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchFailures++
}

// Conversion records a completed conversion.
func (c *Collector) Conversion() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversions++
}

// ConvertFailure records a failed conversion.
func (c *Collector) ConvertFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convertFailures++
}

// ProbeRun records one probe attempt.
func (c *Collector) ProbeRun() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probesRun++
}

// ProbeRetry records a retried indeterminate probe.
func (c *Collector) ProbeRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeRetries++
}

// Incompatible records an incompatible verdict by reason.
func (c *Collector) Incompatible(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incompatibleByReason[reason]++
}

// Commit records a store commit.
func (c *Collector) Commit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
}

// Rollback records a store rollback.
func (c *Collector) Rollback() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
}

// BackupsEvicted adds evicted backup records.
func (c *Collector) BackupsEvicted(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backupsEvicted += n
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	aborts := make(map[string]int64, len(c.abortsByReason))
	for k, v := range c.abortsByReason {
		aborts[k] = v
	}
	incompat := make(map[string]int64, len(c.incompatibleByReason))
	for k, v := range c.incompatibleByReason {
		incompat[k] = v
	}

	return Snapshot{
		ReplacementsStarted:   c.replacementsStarted,
		ReplacementsCompleted: c.replacementsCompleted,
		ReplacementsAborted:   c.replacementsAborted,
		AbortsByReason:        aborts,
		BytesFetched:          c.bytesFetched,
		FetchFailures:         c.fetchFailures,
		Conversions:           c.conversions,
		ConvertFailures:       c.convertFailures,
		ProbesRun:             c.probesRun,
		ProbeRetries:          c.probeRetries,
		IncompatibleByReason:  incompat,
		Commits:               c.commits,
		Rollbacks:             c.rollbacks,
		BackupsEvicted:        c.backupsEvicted,
		Target:                c.target,
		StoreRoot:             c.storeRoot,
	}
}
