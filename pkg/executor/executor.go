// Package executor drives parsed action trees to completion against a
// service gateway, using a bounded FIFO queue consumed by a fixed worker
// pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/castellan/castellan/pkg/eventbus"
	"github.com/castellan/castellan/pkg/events"
	"github.com/castellan/castellan/pkg/models"
	"github.com/castellan/castellan/pkg/otelhelper"
	"github.com/castellan/castellan/pkg/protocol"
	"github.com/castellan/castellan/pkg/template"
)

const (
	DefaultNumWorkers = 2
	DefaultQueueSize  = 64
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config sizes the shared worker pool. The pool is started once at service
// startup and shared by every concurrent submission.
type Config struct {
	NumWorkers int `validate:"min=1,max=256"`
	QueueSize  int `validate:"min=1,max=65536"`
}

func DefaultConfig() Config {
	return Config{
		NumWorkers: DefaultNumWorkers,
		QueueSize:  DefaultQueueSize,
	}
}

// Executor owns the work queue and worker pool. Construct with New, call
// Start once, submit runs through Execute, and Shutdown when done. Safe for
// concurrent submissions; fairness across runs is best-effort FIFO.
type Executor struct {
	config   Config
	gateway  protocol.ServiceGateway
	renderer protocol.Renderer
	logger   *slog.Logger
	tracer   trace.Tracer
	bus      eventbus.EventBus

	queue chan *task
	wg    sync.WaitGroup
	runWg sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

type Option func(*Executor)

func WithConfig(config Config) Option {
	return func(e *Executor) {
		e.config = config
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Executor) {
		e.bus = bus
	}
}

func New(gateway protocol.ServiceGateway, renderer protocol.Renderer, opts ...Option) *Executor {
	e := &Executor{
		config:   DefaultConfig(),
		gateway:  gateway,
		renderer: renderer,
		logger:   slog.Default().With("module", "executor"),
		tracer:   noop.NewTracerProvider().Tracer("castellan"),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.queue = make(chan *task, e.config.QueueSize)

	return e
}

// Start spawns the worker pool.
func (e *Executor) Start() error {
	if err := validate.Struct(e.config); err != nil {
		return fmt.Errorf("invalid executor config: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New("executor already started")
	}

	e.started = true

	for i := 1; i <= e.config.NumWorkers; i++ {
		e.wg.Add(1)

		go e.worker(i)
	}

	e.logger.Info("Executor started", "num_workers", e.config.NumWorkers, "queue_size", e.config.QueueSize)

	return nil
}

// Shutdown refuses new submissions, waits for in-flight runs to finish,
// then drains the queue and joins the workers, bounded by ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()

	if !e.started || e.stopped {
		e.mu.Unlock()

		return nil
	}

	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		// In-flight runs still submit to the queue; it must stay open
		// until the last one returns.
		e.runWg.Wait()
		close(e.queue)
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Executor stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown interrupted: %w", ctx.Err())
	}
}

// Execute drives nodes to terminal states and blocks until the whole tree
// completes or the run deadline expires. Ordinary action failures are
// captured in the summary; an error return means the run itself was
// meaningless (bad input, deadline exhausted with no progress, or an
// internal invariant violation).
func (e *Executor) Execute(ctx context.Context, nodes []*models.ActionNode, tmplCtx map[string]any, opts models.RunOptions) (*models.ExecutionSummary, error) {
	e.mu.Lock()

	if !e.started || e.stopped {
		e.mu.Unlock()

		return nil, errors.New("executor is not running")
	}

	// Registered under the lock so Shutdown either rejects this run or
	// waits for it.
	e.runWg.Add(1)
	e.mu.Unlock()
	defer e.runWg.Done()

	if len(nodes) == 0 {
		return nil, errors.New("no actions to execute")
	}

	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid run options: %w", err)
	}

	opts = opts.Normalized()

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	runID := "run-" + uuid.New().String()[:8]

	r := &run{
		id:            runID,
		correlationID: correlationID,
		opts:          opts,
		tmplData:      template.BuildData(runID, correlationID, tmplCtx),
		logger:        e.logger.With("run_id", runID, "correlation_id", correlationID),
	}

	runCtx := ctx

	if opts.RunDeadline > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, opts.RunDeadline)
		defer cancel()
	}

	spanCtx, span := otelhelper.StartSpan(runCtx, e.tracer, "automation.run",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.CorrelationIDKey, correlationID),
	)
	defer span.End()

	r.logger.Info("Starting run", "top_level_actions", len(nodes))
	e.publish(events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, runID, correlationID),
		ActionCount: len(nodes),
	})

	startedAt := time.Now()
	// The top-level list behaves as an implicit sequence: strictly ordered,
	// fail-fast.
	ok := e.runSequence(spanCtx, r, nodes)
	finishedAt := time.Now()

	if r.fatalErr != nil {
		otelhelper.SetError(span, r.fatalErr)

		return nil, r.fatalErr
	}

	summary := &models.ExecutionSummary{
		RunID:          runID,
		CorrelationID:  correlationID,
		Results:        r.snapshot(),
		OverallSuccess: ok,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
		TotalDuration:  finishedAt.Sub(startedAt),
	}

	if runCtx.Err() != nil {
		summary.OverallSuccess = false

		if len(summary.Results) == 0 {
			deadlineErr := fmt.Errorf("run deadline expired with no progress: %w", runCtx.Err())
			otelhelper.SetError(span, deadlineErr)

			return nil, deadlineErr
		}
	}

	span.SetAttributes(attribute.Bool("castellan.run.overall_success", summary.OverallSuccess))
	r.logger.Info("Run finished",
		"overall_success", summary.OverallSuccess,
		"results", len(summary.Results),
		"total_duration", summary.TotalDuration,
	)
	e.publish(events.RunFinished{
		BaseEvent:      events.NewBaseEvent(events.RunFinishedEvent, runID, correlationID),
		OverallSuccess: summary.OverallSuccess,
		ResultCount:    len(summary.Results),
		TotalDuration:  summary.TotalDuration,
	})

	return summary, nil
}

func (e *Executor) publish(event events.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(context.Background(), event); err != nil {
		e.logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()

	logger := e.logger.With("worker_id", id)
	logger.Debug("Worker started")

	for t := range e.queue {
		e.processTask(t)
	}

	logger.Debug("Worker stopped")
}

// attemptOutcome is the explicit per-attempt result inspected by the retry
// loop, so retry and backoff stay independent of error propagation.
type attemptOutcome int

const (
	attemptSuccess attemptOutcome = iota
	attemptRetryable
	attemptFatal
	attemptCancelled
)

type attemptResult struct {
	outcome attemptOutcome
	err     error
}

// task is one gateway-bound dispatch. Enqueue-then-dequeue through the
// shared queue is the only hand-off, so no node is ever touched by two
// workers at once.
type task struct {
	ctx   context.Context
	run   *run
	node  *models.ActionNode
	reply chan attemptResult
}

// processTask performs exactly one gateway attempt: render, invoke,
// classify. The retry decision belongs to the submitting run.
func (e *Executor) processTask(t *task) {
	n := t.node

	if t.ctx.Err() != nil {
		t.reply <- attemptResult{outcome: attemptCancelled}

		return
	}

	if err := n.Transition(models.StateExecuting); err != nil {
		t.reply <- attemptResult{outcome: attemptFatal, err: err}

		return
	}

	n.Attempts++

	spanCtx, span := otelhelper.StartSpan(t.ctx, e.tracer, "service.call",
		attribute.String(otelhelper.ActionIDKey, n.ID),
		attribute.String(otelhelper.DomainKey, n.Domain),
		attribute.String(otelhelper.ServiceKey, n.Service),
		attribute.Int(otelhelper.AttemptKey, n.Attempts),
	)
	defer span.End()

	data, target, err := e.renderCall(n, t.run.tmplData)
	if err != nil {
		renderErr := models.NewRenderError(n.ID, err)
		otelhelper.SetError(span, renderErr)
		t.reply <- attemptResult{outcome: attemptFatal, err: renderErr}

		return
	}

	// Secondary backstop on top of the gateway's own timeout.
	callCtx, cancel := context.WithTimeout(spanCtx, t.run.opts.PerActionTimeout)
	defer cancel()

	_, err = e.gateway.Call(callCtx, n.Domain, n.Service, target, data)
	if err == nil {
		t.reply <- attemptResult{outcome: attemptSuccess}

		return
	}

	otelhelper.SetError(span, err)

	var callErr *protocol.CallError
	if errors.As(err, &callErr) && !callErr.Retryable {
		t.reply <- attemptResult{
			outcome: attemptFatal,
			err:     models.NewServiceCallError(n.ID, callErr.Message, callErr),
		}

		return
	}

	// Unclassified transport errors count as transient.
	t.reply <- attemptResult{outcome: attemptRetryable, err: err}
}

func (e *Executor) renderCall(n *models.ActionNode, tmplData map[string]any) (map[string]any, []string, error) {
	var data map[string]any

	if n.Data != nil {
		rendered, err := e.renderer.Render(n.Data, tmplData)
		if err != nil {
			return nil, nil, err
		}

		var ok bool

		data, ok = rendered.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("rendered data is not a mapping (%T)", rendered)
		}
	}

	var target []string

	for _, entity := range n.Target {
		rendered, err := e.renderer.Render(entity, tmplData)
		if err != nil {
			return nil, nil, err
		}

		target = append(target, fmt.Sprint(rendered))
	}

	return data, target, nil
}
