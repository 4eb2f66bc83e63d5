package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/assay/types"
)

// Prober classifies artifacts against a target runtime.
//
// Classification is a pure function of the artifact bytes, the
// declared shape contract, and the target policy: probing the same
// inputs always yields the same verdict.
type Prober struct {
	// Loader initializes artifacts. Defaults to StaticLoader.
	Loader Loader
	// Target is the runtime acceptance policy. Defaults to CPURuntime.
	Target TargetRuntime
}

// NewProber creates a Prober with the static loader and CPU target.
func NewProber() *Prober {
	return &Prober{Loader: StaticLoader{}, Target: CPURuntime()}
}

// Probe classifies the artifact at path. The declared contract is the
// shape contract the artifact claims (from its descriptor); target is
// the contract the consumer expects.
func (p *Prober) Probe(ctx context.Context, path string, declared, target types.ShapeContract) types.CompatibilityVerdict {
	loader := p.Loader
	if loader == nil {
		loader = StaticLoader{}
	}

	result, err := loader.Load(ctx, path)
	if err != nil {
		switch {
		case errors.Is(err, ErrCorruptContainer):
			return types.Incompatible(types.ReasonCorruptContainer, err.Error())
		case errors.Is(err, ErrResourceExhausted):
			return types.Indeterminate(types.ReasonResourceExhausted, err.Error())
		default:
			return types.Indeterminate(types.ReasonLoaderFailure, err.Error())
		}
	}

	if rejected := p.rejectedOps(result.CustomOps); len(rejected) > 0 {
		return types.Incompatible(types.ReasonUnsupportedCustomOperator,
			fmt.Sprintf("runtime %q rejects: %s", p.Target.Name, strings.Join(rejected, ", ")))
	}

	// Prefer shapes the loader read from the container; fall back to
	// the descriptor-declared contract.
	contract := declared
	if result.Contract != nil {
		contract = *result.Contract
	}
	if !target.Input.Matches(contract.Input) {
		return types.Incompatible(types.ReasonShapeMismatch,
			fmt.Sprintf("input %s, want %s", contract.Input, target.Input))
	}
	if !target.Output.Matches(contract.Output) {
		return types.Incompatible(types.ReasonShapeMismatch,
			fmt.Sprintf("output %s, want %s", contract.Output, target.Output))
	}

	return types.Compatible()
}

func (p *Prober) rejectedOps(ops []string) []string {
	var rejected []string
	for _, op := range ops {
		if p.Target.Unsupported(op) {
			rejected = append(rejected, op)
		}
	}
	return rejected
}
