// Package pipeline drives artifact replacement end to end.
//
// The orchestrator composes fetch, convert, integrity, probe and the
// store into a per-request state machine and owns every
// failure-recovery decision. The other components report structured
// errors upward and never retry on their own; only the orchestrator
// decides retry versus abort, and nothing is retried past its bounded
// attempt count. The policy is fail-closed: a failed verification or
// probe always preserves the previously active artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pithecene-io/assay/adapter"
	"github.com/pithecene-io/assay/convert"
	"github.com/pithecene-io/assay/fetch"
	"github.com/pithecene-io/assay/integrity"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/probe"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// DefaultProbeAttempts bounds retries of indeterminate probe verdicts.
const DefaultProbeAttempts = 3

// DefaultProbeBackoff is the base backoff between probe attempts.
// Doubles per retry.
const DefaultProbeBackoff = 500 * time.Millisecond

// publishTimeout bounds adapter publication after a request concludes.
const publishTimeout = 10 * time.Second

// ErrInvalidRequest reports a structurally invalid replacement request.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// ReplacementPolicy decides what happens to the active artifact.
// It replaces the historical interactive strategy prompt: the caller
// decides up front, never by blocking on input.
type ReplacementPolicy string

const (
	// PolicyRemoveAndReplace stages a successor and commits it over the
	// active artifact. The default.
	PolicyRemoveAndReplace ReplacementPolicy = "replace"
	// PolicyRemoveOnly backs up and removes the active artifact without
	// staging a successor.
	PolicyRemoveOnly ReplacementPolicy = "remove"
)

// Request describes one artifact replacement.
type Request struct {
	// Source is the artifact location (http, https, s3 or file URL).
	// Required unless Policy is PolicyRemoveOnly.
	Source string
	// Descriptor declares the artifact's identity, shape contract and,
	// when known, the expected checksum of the source bytes. Required.
	Descriptor *types.ArtifactDescriptor
	// Target is the shape contract the consumer expects. The zero
	// value falls back to the descriptor's declared contract.
	Target types.ShapeContract
	// Policy defaults to PolicyRemoveAndReplace.
	Policy ReplacementPolicy
	// Convert enables conversion when the fetched container does not
	// already carry the target format identifier. Nil disables
	// conversion; a non-container source then fails at the probe.
	Convert *convert.Options
}

func (r *Request) validate() error {
	if r.Descriptor == nil {
		return fmt.Errorf("%w: descriptor is required", ErrInvalidRequest)
	}
	if err := r.Descriptor.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	switch r.Policy {
	case "", PolicyRemoveAndReplace, PolicyRemoveOnly:
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidRequest, r.Policy)
	}
	if r.Policy != PolicyRemoveOnly && r.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidRequest)
	}
	if r.Convert != nil {
		if err := r.Convert.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// Result is the terminal outcome of a replacement request.
type Result struct {
	Name  string
	State State
	// Reason is the structured abort code, empty when State is StateDone.
	Reason string
	// Verdict is the last probe verdict, when probing was reached.
	Verdict types.CompatibilityVerdict
	// Descriptor is the committed descriptor on success. Conversion
	// adopts the digest and size of the converter's output.
	Descriptor   *types.ArtifactDescriptor
	BytesFetched int64
	Duration     time.Duration
	Err          error
}

// OK reports whether the request reached StateDone.
func (r Result) OK() bool { return r.State == StateDone }

// Fetcher transfers a source payload to a local destination.
// *fetch.Fetcher satisfies this; tests substitute stubs.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string, sizeHint int64) (int64, error)
}

// Orchestrator runs replacement requests against a store.
//
// Distinct logical names run concurrently; requests for the same name
// are serialized by a per-name lock held from Fetching through
// Committing. The zero values of the optional fields are usable:
// nil Metrics is a no-op, nil Prober gets the static CPU prober.
type Orchestrator struct {
	Store     *store.Store
	Fetcher   Fetcher
	Converter convert.Converter
	Prober    *probe.Prober
	// Adapter, when set, receives a replacement event after every
	// request concludes, success or abort.
	Adapter adapter.Adapter
	Metrics *metrics.Collector
	Logger  *log.Logger
	// ProbeAttempts bounds retries of indeterminate probe verdicts.
	ProbeAttempts int
	// ProbeBackoff is the base backoff between probe attempts.
	ProbeBackoff time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator with default prober, logger and retry
// bounds.
func New(st *store.Store, f Fetcher) *Orchestrator {
	return &Orchestrator{
		Store:         st,
		Fetcher:       f,
		Prober:        probe.NewProber(),
		Logger:        log.NewLogger(),
		ProbeAttempts: DefaultProbeAttempts,
		ProbeBackoff:  DefaultProbeBackoff,
	}
}

func (o *Orchestrator) nameLock(name string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := o.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[name] = lock
	}
	return lock
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.NewLogger()
}

func (o *Orchestrator) prober() *probe.Prober {
	if o.Prober != nil {
		return o.Prober
	}
	return probe.NewProber()
}

func (o *Orchestrator) probeAttempts() int {
	if o.ProbeAttempts > 0 {
		return o.ProbeAttempts
	}
	return DefaultProbeAttempts
}

func (o *Orchestrator) probeBackoff() time.Duration {
	if o.ProbeBackoff > 0 {
		return o.ProbeBackoff
	}
	return DefaultProbeBackoff
}

// Replace runs one replacement request to a terminal state and
// reports the outcome. It never returns a bare error: failures are
// absorbed into the Result with a structured abort reason.
//
// Cancellation at any point before Committing leaves the manifest
// untouched and cleans up staging bytes. Committing runs to
// completion once begun.
func (o *Orchestrator) Replace(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{State: StateIdle}

	if err := req.validate(); err != nil {
		res.State = StateAborted
		res.Err = err
		if req.Descriptor != nil {
			res.Name = req.Descriptor.Name
		}
		return res
	}
	res.Name = req.Descriptor.Name

	lock := o.nameLock(res.Name)
	lock.Lock()
	defer lock.Unlock()

	o.Metrics.ReplacementStarted()
	lg := o.logger().WithModel(res.Name, req.Descriptor.Version)

	res = o.run(ctx, lg, req, res)
	res.Duration = time.Since(start)

	if res.State == StateDone {
		o.Metrics.ReplacementCompleted()
	} else {
		o.Metrics.ReplacementAborted(res.Reason)
		lg.Warn("replacement aborted", map[string]any{
			"reason": res.Reason,
			"error":  errText(res.Err),
		})
	}
	o.publish(lg, req, &res)
	return res
}

func (o *Orchestrator) run(ctx context.Context, lg *log.Logger, req Request, res Result) Result {
	if req.Policy == PolicyRemoveOnly {
		res.State = StateCommitting
		if err := o.Store.Remove(res.Name); err != nil {
			return abortResult(res, AbortCommitError, err)
		}
		res.State = StateDone
		lg.Info("artifact removed", nil)
		return res
	}

	res.State = StateFetching
	dest := o.Store.StagingPath(res.Name)
	n, err := o.Fetcher.Fetch(ctx, req.Source, dest, req.Descriptor.SizeBytes)
	res.BytesFetched = n
	o.Metrics.BytesFetched(n)
	if err != nil {
		o.Metrics.FetchFailure()
		if errors.Is(err, fetch.ErrCanceled) {
			return abortResult(res, AbortCanceled, err)
		}
		return abortResult(res, AbortTransferError, err)
	}
	lg.Info("artifact fetched", map[string]any{"source": req.Source, "bytes": n})

	// The fetched input and, when conversion runs, the converted
	// output both live in staging until commit or abort.
	artifact := dest
	discard := func() {
		_ = os.Remove(dest)
		if artifact != dest {
			_ = os.Remove(artifact)
		}
	}

	if !probe.IsContainer(dest) {
		res.State = StateConverting
		if o.Converter == nil || req.Convert == nil {
			discard()
			return abortResult(res, AbortConvertError,
				errors.New("source needs conversion but no converter is configured"))
		}
		out, cerr := o.Converter.Convert(ctx, dest, *req.Convert)
		if cerr != nil {
			o.Metrics.ConvertFailure()
			discard()
			if ctx.Err() != nil {
				return abortResult(res, AbortCanceled, cerr)
			}
			return abortResult(res, AbortConvertError, cerr)
		}
		o.Metrics.Conversion()
		artifact = out
		lg.Info("artifact converted", map[string]any{"output": out})
	}

	if err := ctx.Err(); err != nil {
		discard()
		return abortResult(res, AbortCanceled, err)
	}

	// The declared checksum always binds the fetched bytes. A
	// converted artifact adopts the digest of the converter's output,
	// since its declared checksum describes the source.
	res.State = StateVerifying
	committed := *req.Descriptor
	if req.Descriptor.Checksum != "" {
		if err := integrity.Verify(dest, req.Descriptor.Checksum); err != nil {
			discard()
			return abortResult(res, AbortIntegrityError, err)
		}
	}
	if artifact != dest || committed.Checksum == "" {
		sum, derr := integrity.Digest(artifact)
		if derr != nil {
			discard()
			return abortResult(res, AbortIntegrityError, derr)
		}
		committed.Checksum = sum
	}
	if fi, serr := os.Stat(artifact); serr == nil {
		committed.SizeBytes = fi.Size()
	}

	res.State = StateProbing
	target := req.Target
	if target.Input == nil && target.Output == nil {
		target = committed.Contract
	}
	verdict, err := o.probeWithRetry(ctx, artifact, committed.Contract, target)
	res.Verdict = verdict
	if err != nil {
		discard()
		return abortResult(res, AbortCanceled, err)
	}
	switch verdict.Status {
	case types.VerdictCompatible:
	case types.VerdictIncompatible:
		o.Metrics.Incompatible(string(verdict.Reason))
		discard()
		return abortResult(res, AbortIncompatible(verdict.Reason),
			fmt.Errorf("artifact rejected: %s", verdict.Detail))
	default:
		discard()
		return abortResult(res, AbortProbeInconclusive,
			fmt.Errorf("probe inconclusive after %d attempts: %s", o.probeAttempts(), verdict.Detail))
	}

	// Last cancellation point. Commit runs to completion once begun;
	// it is the only step mutating durable shared state.
	if err := ctx.Err(); err != nil {
		discard()
		return abortResult(res, AbortCanceled, err)
	}

	res.State = StateCommitting
	staged, err := o.Store.AdoptStaged(&committed, artifact)
	if err != nil {
		discard()
		return abortResult(res, AbortCommitError, err)
	}
	if err := o.Store.Commit(staged); err != nil {
		_ = staged.Discard()
		if artifact != dest {
			_ = os.Remove(dest)
		}
		return abortResult(res, AbortCommitError, err)
	}
	if artifact != dest {
		// The fetched input is superseded by the committed output.
		_ = os.Remove(dest)
	}
	o.Metrics.Commit()

	res.State = StateDone
	res.Descriptor = &committed
	lg.Info("replacement complete", map[string]any{
		"filename": committed.Filename(),
		"checksum": committed.Checksum,
	})
	return res
}

// probeWithRetry probes the artifact, retrying indeterminate verdicts
// with exponential backoff up to the attempt bound. Incompatible and
// compatible verdicts return immediately; they are stable for the
// same bytes. The returned error is non-nil only on cancellation.
func (o *Orchestrator) probeWithRetry(ctx context.Context, path string, declared, target types.ShapeContract) (types.CompatibilityVerdict, error) {
	attempts := o.probeAttempts()
	base := o.probeBackoff()

	var verdict types.CompatibilityVerdict
	for i := range attempts {
		if i > 0 {
			o.Metrics.ProbeRetry()
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return verdict, ctx.Err()
			case <-time.After(backoff):
			}
		}
		o.Metrics.ProbeRun()
		verdict = o.prober().Probe(ctx, path, declared, target)
		if verdict.Status != types.VerdictIndeterminate {
			return verdict, nil
		}
	}
	return verdict, nil
}

// Rollback restores the newest backup for name and publishes a
// rollback event. Serialized against replacements of the same name.
func (o *Orchestrator) Rollback(ctx context.Context, name string) error {
	lock := o.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := o.Store.Rollback(name); err != nil {
		return err
	}
	o.Metrics.Rollback()

	if o.Adapter == nil {
		return nil
	}
	event := &adapter.ReplacementEvent{
		ContractVersion: types.ManifestSchemaVersion,
		EventType:       adapter.EventRolledBack,
		Model:           name,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if manifest, err := o.Store.Manifest(); err == nil {
		if entry, ok := manifest.Models[name]; ok {
			event.Version = entry.Version
			event.Checksum = entry.Checksum
			event.SizeBytes = entry.SizeBytes
		}
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := o.Adapter.Publish(pctx, event); err != nil {
		o.logger().Warn("event publish failed", map[string]any{"model": name, "error": err.Error()})
	}
	return nil
}

// publish sends the request's terminal event through the adapter.
// Publication is best effort and outlives request cancellation, so
// an aborted run still notifies downstream consumers.
func (o *Orchestrator) publish(lg *log.Logger, req Request, res *Result) {
	if o.Adapter == nil {
		return
	}

	eventType := adapter.EventCommitted
	if res.State != StateDone {
		eventType = adapter.EventAborted
	}
	desc := res.Descriptor
	if desc == nil {
		desc = req.Descriptor
	}
	event := &adapter.ReplacementEvent{
		ContractVersion: types.ManifestSchemaVersion,
		EventType:       eventType,
		Model:           res.Name,
		Version:         desc.Version,
		Variant:         desc.Variant,
		Reason:          res.Reason,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DurationMs:      res.Duration.Milliseconds(),
		BytesFetched:    res.BytesFetched,
	}
	if res.State == StateDone {
		event.Checksum = desc.Checksum
		event.SizeBytes = desc.SizeBytes
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.Adapter.Publish(ctx, event); err != nil {
		lg.Warn("event publish failed", map[string]any{"error": err.Error()})
	}
}

func abortResult(res Result, reason string, err error) Result {
	res.State = StateAborted
	res.Reason = reason
	res.Err = err
	return res
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
