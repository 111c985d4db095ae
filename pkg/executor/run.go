package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castellan/castellan/pkg/events"
	"github.com/castellan/castellan/pkg/models"
)

// run carries the mutable state of one submission. Results are appended in
// completion order; parallel children interleave without guarantee.
type run struct {
	id            string
	correlationID string
	opts          models.RunOptions
	tmplData      map[string]any
	logger        *slog.Logger

	mu       sync.Mutex
	results  []models.ExecutionResult
	fatalErr error
}

func (r *run) record(result models.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, result)
}

func (r *run) snapshot() []models.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.ExecutionResult(nil), r.results...)
}

// setFatal records the first run-aborting error; later ones lose.
func (r *run) setFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

func (r *run) fatal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fatalErr != nil
}

func (r *run) maxAttempts() int {
	return *r.opts.MaxRetries + 1
}

// runSequence drives an ordered node list: node k+1 is not dispatched until
// node k reaches a terminal state, and a failure aborts the remaining
// siblings.
func (e *Executor) runSequence(ctx context.Context, r *run, nodes []*models.ActionNode) bool {
	for i, node := range nodes {
		if !e.runNode(ctx, r, node) {
			e.abortRemaining(nodes[i+1:])

			return false
		}
	}

	return true
}

// abortRemaining cancels never-dispatched siblings. They produce no results,
// which is how the summary distinguishes "never ran" from "ran and failed".
func (e *Executor) abortRemaining(nodes []*models.ActionNode) {
	for _, n := range nodes {
		if !n.State.Terminal() {
			_ = n.Transition(models.StateCancelled)
		}
	}
}

func (e *Executor) runNode(ctx context.Context, r *run, n *models.ActionNode) bool {
	if r.fatal() {
		return false
	}

	if ctx.Err() != nil {
		_ = n.Transition(models.StateCancelled)

		return false
	}

	switch n.Kind {
	case models.KindServiceCall:
		return e.runServiceCall(ctx, r, n)
	case models.KindDelay:
		return e.runDelay(ctx, r, n)
	case models.KindSequence:
		return e.runSequenceNode(ctx, r, n)
	case models.KindParallel:
		return e.runParallel(ctx, r, n)
	case models.KindRepeat:
		return e.runRepeat(ctx, r, n)
	case models.KindChoose:
		return e.runChoose(ctx, r, n)
	default:
		r.setFatal(fmt.Errorf("unknown node kind %q (action %s)", n.Kind, n.ID))

		return false
	}
}

func (e *Executor) enterComposite(r *run, n *models.ActionNode) bool {
	if err := n.Transition(models.StateExecuting); err != nil {
		r.setFatal(err)

		return false
	}

	return true
}

func (e *Executor) settleComposite(ctx context.Context, r *run, n *models.ActionNode, ok bool) bool {
	next := models.StateSuccess

	if !ok {
		next = models.StateFailed

		if ctx.Err() != nil {
			next = models.StateCancelled
		}
	}

	if err := n.Transition(next); err != nil {
		r.setFatal(err)

		return false
	}

	return ok
}

func (e *Executor) runSequenceNode(ctx context.Context, r *run, n *models.ActionNode) bool {
	if !e.enterComposite(r, n) {
		return false
	}

	return e.settleComposite(ctx, r, n, e.runSequence(ctx, r, n.Children))
}

// runParallel dispatches every child at once and waits for all of them; the
// composite succeeds only if every child does. A failing child never aborts
// its siblings.
func (e *Executor) runParallel(ctx context.Context, r *run, n *models.ActionNode) bool {
	if !e.enterComposite(r, n) {
		return false
	}

	var wg sync.WaitGroup

	outcomes := make([]bool, len(n.Children))

	for i, child := range n.Children {
		wg.Add(1)

		go func(i int, child *models.ActionNode) {
			defer wg.Done()

			outcomes[i] = e.runNode(ctx, r, child)
		}(i, child)
	}

	wg.Wait()

	ok := true
	for _, outcome := range outcomes {
		ok = ok && outcome
	}

	return e.settleComposite(ctx, r, n, ok)
}

// runRepeat expands its child template into fresh, independently identified
// repetitions at dispatch time, stopping at the first failure.
func (e *Executor) runRepeat(ctx context.Context, r *run, n *models.ActionNode) bool {
	if !e.enterComposite(r, n) {
		return false
	}

	if len(n.Children) != 1 {
		r.logger.Error("Repeat node does not hold exactly one child template", "action_id", n.ID)

		return e.settleComposite(ctx, r, n, false)
	}

	tmpl := n.Children[0]
	ok := true

	if n.Count > 0 {
		for i := 0; i < n.Count && ok; i++ {
			if ctx.Err() != nil {
				ok = false

				break
			}

			ok = e.runNode(ctx, r, tmpl.Clone(n.ID))
		}

		return e.settleComposite(ctx, r, n, ok)
	}

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			ok = false

			break
		}

		if iteration >= r.opts.MaxRepeatIterations {
			r.logger.Error("Repeat condition never settled, giving up",
				"action_id", n.ID, "iterations", iteration)

			ok = false

			break
		}

		proceed, err := e.renderer.RenderBool(n.While, r.tmplData)
		if err != nil {
			r.logger.Error("Failed to evaluate repeat condition", "action_id", n.ID, "error", err)
			e.failUnrenderable(r, n, err)

			return false
		}

		if !proceed {
			break
		}

		if !e.runNode(ctx, r, tmpl.Clone(n.ID)) {
			ok = false

			break
		}
	}

	return e.settleComposite(ctx, r, n, ok)
}

// runChoose evaluates branch conditions in declared order via the template
// layer and dispatches only the first truthy branch. Unselected branches
// become synthetic no-op successes and emit no results.
func (e *Executor) runChoose(ctx context.Context, r *run, n *models.ActionNode) bool {
	if !e.enterComposite(r, n) {
		return false
	}

	var selected *models.ActionNode

	for _, branch := range n.Children {
		if branch.Condition == "" {
			selected = branch

			break
		}

		truthy, err := e.renderer.RenderBool(branch.Condition, r.tmplData)
		if err != nil {
			r.logger.Error("Failed to evaluate branch condition", "action_id", branch.ID, "error", err)
			e.failUnrenderable(r, branch, err)

			return e.settleComposite(ctx, r, n, false)
		}

		if truthy {
			selected = branch

			break
		}
	}

	for _, branch := range n.Children {
		if branch != selected && branch.State == models.StateQueued {
			_ = branch.Transition(models.StateSuccess)
		}
	}

	ok := true

	if selected != nil {
		ok = e.runNode(ctx, r, selected)
	}

	return e.settleComposite(ctx, r, n, ok)
}

// runDelay suspends only this branch of the run; pool workers keep serving
// other branches and other runs.
func (e *Executor) runDelay(ctx context.Context, r *run, n *models.ActionNode) bool {
	if err := n.Transition(models.StateExecuting); err != nil {
		r.setFatal(err)

		return false
	}

	startedAt := time.Now()
	timer := time.NewTimer(n.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		if err := n.Transition(models.StateSuccess); err != nil {
			r.setFatal(err)

			return false
		}

		e.finishLeaf(r, n, startedAt, "", "")

		return true
	case <-ctx.Done():
		_ = n.Transition(models.StateCancelled)
		e.finishLeaf(r, n, startedAt, "", "run cancelled before delay elapsed")

		return false
	}
}

// runServiceCall owns the retry loop for one leaf: it enqueues an attempt,
// inspects the explicit attempt result, and sleeps the backoff schedule
// between retries without occupying a pool worker.
func (e *Executor) runServiceCall(ctx context.Context, r *run, n *models.ActionNode) bool {
	startedAt := time.Now()

	for {
		t := &task{ctx: ctx, run: r, node: n, reply: make(chan attemptResult, 1)}

		select {
		case e.queue <- t:
		case <-ctx.Done():
			return e.cancelServiceCall(r, n, startedAt)
		}

		// The worker always replies once it dequeues the task; a dead run
		// context makes the gateway call return promptly.
		res := <-t.reply

		switch res.outcome {
		case attemptSuccess:
			if err := n.Transition(models.StateSuccess); err != nil {
				r.setFatal(err)

				return false
			}

			e.finishLeaf(r, n, startedAt, "", "")

			return true

		case attemptFatal:
			execErr, _ := models.AsExecutionError(res.err)
			if execErr != nil && execErr.Kind == models.ErrKindExecution {
				r.setFatal(execErr)

				return false
			}

			if err := n.Transition(models.StateFailed); err != nil {
				r.setFatal(err)

				return false
			}

			e.finishLeaf(r, n, startedAt, errKindOf(execErr), errDetailOf(res.err))

			return false

		case attemptCancelled:
			return e.cancelServiceCall(r, n, startedAt)

		case attemptRetryable:
			if ctx.Err() != nil {
				return e.cancelServiceCall(r, n, startedAt)
			}

			if n.Attempts >= r.maxAttempts() {
				if err := n.Transition(models.StateFailed); err != nil {
					r.setFatal(err)

					return false
				}

				exhausted := models.NewRetryExhaustedError(n.ID, n.Attempts, res.err)
				e.finishLeaf(r, n, startedAt, exhausted.Kind, errDetailOf(exhausted))

				return false
			}

			if err := n.Transition(models.StateRetrying); err != nil {
				r.setFatal(err)

				return false
			}

			backoff := backoffDelay(r.opts.InitialRetryDelay, n.Attempts)
			r.logger.Warn("Service call failed, retrying",
				"action_id", n.ID,
				"domain", n.Domain,
				"service", n.Service,
				"attempt", n.Attempts,
				"backoff", backoff,
				"error", res.err,
			)

			timer := time.NewTimer(backoff)

			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()

				return e.cancelServiceCall(r, n, startedAt)
			}
		}
	}
}

// cancelServiceCall settles a leaf overtaken by deadline expiry or caller
// cancellation. An in-flight gateway call is abandoned, which does not
// guarantee the remote side did not already apply the effect; a leaf that
// never dispatched emits no result.
func (e *Executor) cancelServiceCall(r *run, n *models.ActionNode, startedAt time.Time) bool {
	_ = n.Transition(models.StateCancelled)

	if n.Attempts > 0 {
		e.finishLeaf(r, n, startedAt, "", "run cancelled")
	}

	return false
}

// failUnrenderable settles a node whose branch or repeat condition cannot be
// rendered and surfaces the invalid_action in the summary, mirroring how
// unrenderable service data fails its leaf.
func (e *Executor) failUnrenderable(r *run, n *models.ActionNode, cause error) {
	renderErr := models.NewRenderError(n.ID, cause)
	startedAt := time.Now()

	if n.State == models.StateQueued {
		_ = n.Transition(models.StateExecuting)
	}

	_ = n.Transition(models.StateFailed)
	e.finishLeaf(r, n, startedAt, models.ErrKindInvalidAction, errDetailOf(renderErr))
}

func (e *Executor) finishLeaf(r *run, n *models.ActionNode, startedAt time.Time, errKind models.ErrorKind, detail string) {
	finishedAt := time.Now()
	result := models.ExecutionResult{
		ActionID:    n.ID,
		Kind:        n.Kind,
		Domain:      n.Domain,
		Service:     n.Service,
		State:       n.State,
		Success:     n.State == models.StateSuccess,
		ErrorKind:   errKind,
		ErrorDetail: detail,
		Attempts:    n.Attempts,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Duration:    finishedAt.Sub(startedAt),
	}

	r.record(result)
	e.publish(events.ActionFinished{
		BaseEvent: events.NewBaseEvent(events.ActionFinishedEvent, r.id, r.correlationID),
		ActionID:  n.ID,
		Kind:      n.Kind,
		Domain:    n.Domain,
		Service:   n.Service,
		State:     n.State,
		ErrorKind: errKind,
		Attempts:  n.Attempts,
		Duration:  result.Duration,
	})
}

// backoffDelay computes initial * 2^(attempt-1), the schedule 1s, 2s, 4s
// with the defaults.
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}

	if shift > 16 {
		shift = 16
	}

	return initial << uint(shift)
}

func errKindOf(execErr *models.ExecutionError) models.ErrorKind {
	if execErr == nil {
		return models.ErrKindServiceCall
	}

	return execErr.Kind
}

func errDetailOf(err error) string {
	if err == nil {
		return ""
	}

	if execErr, ok := models.AsExecutionError(err); ok {
		detail := execErr.Detail
		if execErr.Err != nil {
			detail = fmt.Sprintf("%s: %v", detail, execErr.Err)
		}

		return detail
	}

	return err.Error()
}
