package types

// VerdictStatus is the top-level compatibility classification.
type VerdictStatus string

const (
	// VerdictCompatible means the artifact loads and its shape contract
	// matches the target contract exactly.
	VerdictCompatible VerdictStatus = "compatible"
	// VerdictIncompatible means the artifact was rejected for a
	// permanent, structured reason. Not retryable with the same bytes.
	VerdictIncompatible VerdictStatus = "incompatible"
	// VerdictIndeterminate means probing could not reach a conclusion
	// (e.g. transient resource exhaustion). Retryable.
	VerdictIndeterminate VerdictStatus = "indeterminate"
)

// VerdictReason is a structured probe rejection code.
// Orchestration branches on these codes, never on free text.
type VerdictReason string

const (
	// ReasonUnsupportedCustomOperator means the artifact embeds an
	// operator specific to an accelerator the target runtime lacks.
	ReasonUnsupportedCustomOperator VerdictReason = "unsupported-custom-operator"
	// ReasonShapeMismatch means the declared shape contract does not
	// match the target contract.
	ReasonShapeMismatch VerdictReason = "shape-mismatch"
	// ReasonCorruptContainer means the bytes do not parse as a valid
	// model container at all.
	ReasonCorruptContainer VerdictReason = "corrupt-container"
	// ReasonResourceExhausted means the loader hit a transient resource
	// limit. Indeterminate, retryable.
	ReasonResourceExhausted VerdictReason = "resource-exhausted"
	// ReasonLoaderFailure means the loader failed for an unclassified
	// transient cause. Indeterminate, retryable.
	ReasonLoaderFailure VerdictReason = "loader-failure"
)

// CompatibilityVerdict is the outcome of probing an artifact against a
// target runtime contract. Probing the same bytes against the same
// contract always yields the same verdict.
type CompatibilityVerdict struct {
	Status VerdictStatus `json:"status"`
	// Reason is set for incompatible and indeterminate verdicts.
	Reason VerdictReason `json:"reason,omitempty"`
	// Detail is a human-readable elaboration. Informational only;
	// callers branch on Status and Reason.
	Detail string `json:"detail,omitempty"`
}

// Compatible returns a compatible verdict.
func Compatible() CompatibilityVerdict {
	return CompatibilityVerdict{Status: VerdictCompatible}
}

// Incompatible returns an incompatible verdict with the given reason.
func Incompatible(reason VerdictReason, detail string) CompatibilityVerdict {
	return CompatibilityVerdict{Status: VerdictIncompatible, Reason: reason, Detail: detail}
}

// Indeterminate returns an indeterminate verdict with the given reason.
func Indeterminate(reason VerdictReason, detail string) CompatibilityVerdict {
	return CompatibilityVerdict{Status: VerdictIndeterminate, Reason: reason, Detail: detail}
}

// IsRetryable reports whether the verdict may change on a re-probe of
// the same bytes. Only indeterminate verdicts are retryable.
func (v CompatibilityVerdict) IsRetryable() bool {
	return v.Status == VerdictIndeterminate
}
