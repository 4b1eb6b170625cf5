package duel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/degenduel/duel-settlement/business/domain/attestation"
	"github.com/degenduel/duel-settlement/entities"
	"go.uber.org/zap"
)

// one slot per state, a task never publishes more than that
const updatesBuffer = 8

type Attestor interface {
	FullAttestation(ctx context.Context, params entities.AttestationParams, observer attestation.Observer) (*entities.AttestationResult, error)
	Settle(ctx context.Context, duelID string, proof entities.ProofRecord) (string, error)
}

type Recorder interface {
	IncStateTransition(state string)
	IncPipelineFailure(step string)
	AddActiveDuels(delta int)
}

type Outcome struct {
	Result *entities.AttestationResult
	TxHash string
	Final  entities.DuelProgress
}

type Tracker struct {
	attestor Attestor
	metrics  Recorder
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

func NewTracker(attestor Attestor, metrics Recorder, clk clock.Clock, logger *zap.SugaredLogger) *Tracker {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		attestor: attestor,
		metrics:  metrics,
		clock:    clk,
		logger:   logger,
	}
}

// Track runs the pipeline for duelID and blocks until it ends.
func (tr *Tracker) Track(ctx context.Context, duelID string, params entities.AttestationParams) (*Outcome, error) {
	return tr.Start(ctx, duelID, params).Wait()
}

// Start runs the pipeline for duelID on its own goroutine.
func (tr *Tracker) Start(ctx context.Context, duelID string, params entities.AttestationParams) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		duelID:  duelID,
		tracker: tr,
		ctx:     taskCtx,
		cancel:  cancel,
		updates: make(chan entities.DuelProgress, updatesBuffer),
		done:    make(chan struct{}),
	}
	task.publish(entities.StateIdle, nil, "")

	tr.metrics.AddActiveDuels(1)
	go tr.run(task, params)
	return task
}

func (tr *Tracker) run(task *Task, params entities.AttestationParams) {
	outcome, err := tr.execute(task, params)
	tr.metrics.AddActiveDuels(-1)
	task.finish(outcome, err)
}

func (tr *Tracker) execute(task *Task, params entities.AttestationParams) (*Outcome, error) {
	ctx := task.ctx
	if !task.transition(entities.StatePreparing, nil, "") {
		return nil, task.cancelled(nil)
	}

	result, err := tr.attestor.FullAttestation(ctx, params, &taskObserver{task: task})
	if err != nil {
		return nil, tr.fail(task, err)
	}

	roundID := result.EpochIndex
	if !task.commit(&roundID) {
		return nil, task.cancelled(nil)
	}

	// past this point cancellation is ignored so settlement is never half applied
	txHash, err := tr.attestor.Settle(context.WithoutCancel(ctx), task.duelID, result.Proof)
	if err != nil {
		return nil, tr.fail(task, err)
	}

	final := task.publish(entities.StateSettled, &roundID, "")
	tr.logger.Infow("Duel pipeline finished", "duelId", task.duelID, "roundId", roundID, "txHash", txHash)
	return &Outcome{Result: result, TxHash: txHash, Final: final}, nil
}

func (tr *Tracker) fail(task *Task, err error) error {
	if task.isCancelled() {
		return task.cancelled(err)
	}
	progress := task.Progress()
	if !task.transition(entities.StateFailed, progress.RoundID, err.Error()) {
		return task.cancelled(err)
	}
	tr.metrics.IncPipelineFailure(string(entities.StepOf(err)))
	tr.logger.Errorw("Duel pipeline failed", "duelId", task.duelID, "step", entities.StepOf(err), "error", err)
	return err
}

// Task is a single in-flight pipeline run.
type Task struct {
	duelID  string
	tracker *Tracker
	ctx     context.Context
	cancel  context.CancelFunc

	progress atomic.Pointer[entities.DuelProgress]

	mu        sync.Mutex // guards the flags below and sends on updates
	committed bool
	stopped   bool
	updates   chan entities.DuelProgress

	done    chan struct{}
	outcome *Outcome
	err     error
}

func (t *Task) DuelID() string {
	return t.duelID
}

// Progress returns the latest published snapshot.
func (t *Task) Progress() entities.DuelProgress {
	return *t.progress.Load()
}

// Updates delivers every published transition in order and is closed when the task ends.
func (t *Task) Updates() <-chan entities.DuelProgress {
	return t.updates
}

// Cancel stops the pipeline unless settlement has already started. No transition is
// published after Cancel returns.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return
	}
	t.stopped = true
	t.cancel()
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task ends and returns its outcome.
func (t *Task) Wait() (*Outcome, error) {
	<-t.done
	return t.outcome, t.err
}

func (t *Task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.committed && (t.stopped || t.ctx.Err() != nil)
}

// transition publishes state unless the task was cancelled.
func (t *Task) transition(state entities.DuelState, roundID *int64, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.committed && (t.stopped || t.ctx.Err() != nil) {
		return false
	}
	t.publishLocked(state, roundID, errMsg)
	return true
}

// commit publishes settling and makes the task immune to cancellation.
func (t *Task) commit(roundID *int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.ctx.Err() != nil {
		return false
	}
	t.committed = true
	t.publishLocked(entities.StateSettling, roundID, "")
	return true
}

func (t *Task) publish(state entities.DuelState, roundID *int64, errMsg string) entities.DuelProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishLocked(state, roundID, errMsg)
}

func (t *Task) publishLocked(state entities.DuelState, roundID *int64, errMsg string) entities.DuelProgress {
	progress := entities.DuelProgress{
		State:     state,
		DuelID:    t.duelID,
		Timestamp: t.tracker.clock.Now(),
		RoundID:   roundID,
		Error:     errMsg,
	}
	t.progress.Store(&progress)
	t.tracker.metrics.IncStateTransition(string(state))

	select {
	case t.updates <- progress:
	default:
		t.tracker.logger.Warnw("Dropping progress update, buffer full", "duelId", t.duelID, "state", state)
	}
	return progress
}

func (t *Task) cancelled(cause error) error {
	err := t.ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	t.tracker.logger.Infow("Duel pipeline cancelled", "duelId", t.duelID, "state", t.Progress().State)
	if cause == nil {
		return fmt.Errorf("duel [%s] cancelled: %w", t.duelID, err)
	}
	return fmt.Errorf("duel [%s] cancelled: %w: %w", t.duelID, err, cause)
}

func (t *Task) finish(outcome *Outcome, err error) {
	t.mu.Lock()
	t.outcome = outcome
	t.err = err
	close(t.updates)
	t.mu.Unlock()

	t.cancel()
	close(t.done)
}

type taskObserver struct {
	task *Task
}

func (o *taskObserver) OnSubmitting() {
	o.task.transition(entities.StateSubmitting, nil, "")
}

func (o *taskObserver) OnSubmitted(roundID int64) {
	o.task.transition(entities.StateAwaiting, &roundID, "")
}

func (o *taskObserver) OnProving(roundID int64) {
	o.task.transition(entities.StateProving, &roundID, "")
}

type nopRecorder struct{}

func (nopRecorder) IncStateTransition(string) {}
func (nopRecorder) IncPipelineFailure(string) {}
func (nopRecorder) AddActiveDuels(int)        {}
