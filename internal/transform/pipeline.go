package transform

import (
	"context"
	"fmt"
	"time"

	fkerrors "github.com/arkilian/framekit/internal/errors"
	"github.com/arkilian/framekit/pkg/types"
)

type compiledStep struct {
	index int
	id    TransformerID
	op    FrameOperator
}

// StepObserver is notified after each step runs on a frame.
type StepObserver func(id TransformerID, d time.Duration)

// Pipeline is a compiled, immutable sequence of transformer steps.
// A Pipeline is safe for concurrent use.
type Pipeline struct {
	steps   []compiledStep
	observe StepObserver
}

// Compile resolves every enabled step against the registry and validates its options.
func Compile(registry *Registry, configs []Config) (*Pipeline, error) {
	p := &Pipeline{steps: make([]compiledStep, 0, len(configs))}
	for i, cfg := range configs {
		if cfg.Disabled {
			continue
		}
		t, err := registry.Get(cfg.ID)
		if err != nil {
			return nil, withStep(err, i)
		}
		op, err := t.Operator(cfg.Options)
		if err != nil {
			return nil, withStep(err, i)
		}
		p.steps = append(p.steps, compiledStep{index: i, id: cfg.ID, op: op})
	}
	return p, nil
}

// Len returns the number of enabled steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// StepIDs returns the transformer IDs of the enabled steps in order.
func (p *Pipeline) StepIDs() []TransformerID {
	ids := make([]TransformerID, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.id
	}
	return ids
}

// Observe returns a copy of the pipeline that reports step timings to fn.
func (p *Pipeline) Observe(fn StepObserver) *Pipeline {
	cp := *p
	cp.observe = fn
	return &cp
}

// ApplyFrame runs every step over one frame.
func (p *Pipeline) ApplyFrame(frame *types.Frame) (*types.Frame, error) {
	if err := ValidateFrame(frame); err != nil {
		return nil, err
	}
	out := frame
	for _, s := range p.steps {
		start := time.Now()
		next, err := s.op(out)
		if p.observe != nil {
			p.observe(s.id, time.Since(start))
		}
		if err != nil {
			return nil, fkerrors.NewTransformError(fkerrors.CodeStepFailed,
				fmt.Sprintf("step %d (%s) failed", s.index, s.id), err)
		}
		out = next
	}
	return out, nil
}

// Apply runs the pipeline over each frame and returns one output per input,
// in input order.
func (p *Pipeline) Apply(ctx context.Context, frames []*types.Frame) ([]*types.Frame, error) {
	out := make([]*types.Frame, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, fkerrors.NewTransformError(fkerrors.CodeCancelled, "pipeline cancelled", err)
		}
		result, err := p.ApplyFrame(frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		out[i] = result
	}
	return out, nil
}

// Stream applies the pipeline lazily to frames read from in. The output
// channel yields one frame per input and is closed when in is closed, when ctx
// is cancelled, or after the first error. The error channel receives at most
// one error and is closed alongside the output.
func (p *Pipeline) Stream(ctx context.Context, in <-chan *types.Frame) (<-chan *types.Frame, <-chan error) {
	out := make(chan *types.Frame)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for i := 0; ; i++ {
			var frame *types.Frame
			var ok bool
			select {
			case <-ctx.Done():
				errCh <- fkerrors.NewTransformError(fkerrors.CodeCancelled, "pipeline cancelled", ctx.Err())
				return
			case frame, ok = <-in:
				if !ok {
					return
				}
			}

			result, err := p.ApplyFrame(frame)
			if err != nil {
				errCh <- fmt.Errorf("frame %d: %w", i, err)
				return
			}

			select {
			case out <- result:
			case <-ctx.Done():
				errCh <- fkerrors.NewTransformError(fkerrors.CodeCancelled, "pipeline cancelled", ctx.Err())
				return
			}
		}
	}()

	return out, errCh
}

// ValidateFrame rejects nil and malformed frames before any step runs.
func ValidateFrame(frame *types.Frame) error {
	if frame == nil {
		return fkerrors.NewValidationError(fkerrors.CodeInvalidFrame, "frame is nil")
	}
	if err := frame.Validate(); err != nil {
		return fkerrors.Wrap(fkerrors.ErrCategoryValidation, fkerrors.CodeInvalidFrame,
			fmt.Sprintf("frame %q", frame.Name), err)
	}
	return nil
}

// withStep attaches the step index to a structured error.
func withStep(err error, index int) error {
	if fe, ok := err.(*fkerrors.FramekitError); ok {
		return fe.WithDetails(map[string]interface{}{"step": index})
	}
	return fmt.Errorf("step %d: %w", index, err)
}
