package pipeline

import "github.com/pithecene-io/assay/types"

// State names one step of a replacement request's lifecycle.
//
// A request moves Idle → Fetching → (Converting) → Verifying →
// Probing → Committing → Done. Aborted is a terminal state reachable
// from any step.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateConverting State = "converting"
	StateVerifying  State = "verifying"
	StateProbing    State = "probing"
	StateCommitting State = "committing"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// Abort reason codes. Reported verbatim in results, logs and events;
// callers branch on these, never on error text.
const (
	AbortTransferError     = "transfer-error"
	AbortConvertError      = "convert-error"
	AbortIntegrityError    = "integrity-error"
	AbortProbeInconclusive = "probe-inconclusive"
	AbortCommitError       = "commit-error"
	AbortCanceled          = "canceled"
)

// AbortIncompatible renders the abort reason for a rejected artifact,
// e.g. "incompatible: shape-mismatch".
func AbortIncompatible(reason types.VerdictReason) string {
	return "incompatible: " + string(reason)
}
