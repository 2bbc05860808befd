// Package shadow runs side-channel evaluations of a tutoring conversation
// concurrently with the primary tutoring reply.
package shadow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/aula/internal/llm"
)

// PrimaryFunc produces the tutoring reply for a turn.
type PrimaryFunc func(ctx context.Context) (*llm.Response, error)

// Evaluations selects the evaluators to run for one turn. A nil input
// disables that evaluator.
type Evaluations struct {
	Criteria *CriteriaInput
	Quality  *QualityInput
	Insights *InsightInput
}

// Result holds the primary reply and whichever evaluator results ran.
type Result struct {
	Reply    *llm.Response
	Criteria *CriteriaResult
	Quality  *QualityResult
	Insights *InsightResult
}

// Signals returns the evaluator results in fixed order: criteria, quality,
// insights. Disabled evaluators are left out.
func (r *Result) Signals() []Signal {
	var out []Signal
	if r.Criteria != nil {
		out = append(out, *r.Criteria)
	}
	if r.Quality != nil {
		out = append(out, *r.Quality)
	}
	if r.Insights != nil {
		out = append(out, *r.Insights)
	}
	return out
}

// Monitor fans out one turn's work and joins it.
type Monitor struct {
	evaluator *Evaluator
}

// NewMonitor creates a monitor using evaluator.
func NewMonitor(evaluator *Evaluator) *Monitor {
	return &Monitor{evaluator: evaluator}
}

// Run executes primary and the enabled evaluators concurrently and waits
// for all of them. Evaluators never fail the turn; an error from primary
// does. primary may be nil to run the evaluators alone.
func (m *Monitor) Run(ctx context.Context, primary PrimaryFunc, ev Evaluations) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	res := &Result{}

	if primary != nil {
		g.Go(func() error {
			reply, err := primary(gctx)
			if err != nil {
				return fmt.Errorf("primary completion: %w", err)
			}
			res.Reply = reply
			return nil
		})
	}

	// Each goroutine writes its own field; Wait orders the writes before reads.
	if ev.Criteria != nil {
		in := *ev.Criteria
		g.Go(func() error {
			r := m.evaluator.EvaluateCriteria(gctx, in)
			res.Criteria = &r
			return nil
		})
	}
	if ev.Quality != nil {
		in := *ev.Quality
		g.Go(func() error {
			r := m.evaluator.ValidateQuality(gctx, in)
			res.Quality = &r
			return nil
		})
	}
	if ev.Insights != nil {
		in := *ev.Insights
		g.Go(func() error {
			r := m.evaluator.ExtractInsights(gctx, in)
			res.Insights = &r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
