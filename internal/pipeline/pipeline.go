package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/internal/normalize"
	"github.com/FranksOps/trawl/internal/params"
	"github.com/FranksOps/trawl/internal/runrecord"
	"github.com/FranksOps/trawl/internal/search"
	"github.com/FranksOps/trawl/internal/secrets"
	"github.com/FranksOps/trawl/internal/storage"
)

// State is a step of the run state machine.
type State string

const (
	StateInit          State = "INIT"
	StateParameterized State = "PARAMETERIZED"
	StateRunOpened     State = "RUN_OPENED"
	StateFetched       State = "FETCHED"
	StateNormalized    State = "NORMALIZED"
	StateLoaded        State = "LOADED"
	StateClosedOK      State = "CLOSED_OK"
	StateClosedFailed  State = "CLOSED_FAILED"
)

// closeTimeout bounds the closing write, which must still happen after the
// caller's context is canceled.
const closeTimeout = 10 * time.Second

// ParameterResolver resolves a source into its run parameters.
type ParameterResolver interface {
	Resolve(ctx context.Context, sourceID string) (params.Parameters, error)
}

// Invocation identifies one requested run.
type Invocation struct {
	SourceID    string
	TriggerTime time.Time
}

// Outcome reports how an invocation ended.
type Outcome struct {
	RunID    string
	SourceID string
	// Status is empty when no run row was opened.
	Status   storage.Status
	RowCount int
	State    State
	// FailedAt is the last state reached before a failure.
	FailedAt State
	Cause    error
}

// Config wires the collaborators of an Orchestrator.
type Config struct {
	Params     ParameterResolver
	Secrets    secrets.Provider
	Searcher   search.Searcher
	Recorder   *runrecord.Recorder
	Sink       storage.RecordSink
	Normalizer normalize.Normalizer
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator sequences parameter resolution, run bookkeeping, fetch,
// normalization and load for one source at a time.
type Orchestrator struct {
	params     ParameterResolver
	secrets    secrets.Provider
	searcher   search.Searcher
	recorder   *runrecord.Recorder
	sink       storage.RecordSink
	normalizer normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Params == nil:
		return nil, errors.New("pipeline: parameter resolver is nil")
	case cfg.Secrets == nil:
		return nil, errors.New("pipeline: secret provider is nil")
	case cfg.Searcher == nil:
		return nil, errors.New("pipeline: searcher is nil")
	case cfg.Recorder == nil:
		return nil, errors.New("pipeline: run recorder is nil")
	case cfg.Sink == nil:
		return nil, errors.New("pipeline: record sink is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		params:     cfg.Params,
		secrets:    cfg.Secrets,
		searcher:   cfg.Searcher,
		recorder:   cfg.Recorder,
		sink:       cfg.Sink,
		normalizer: cfg.Normalizer,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// RunContext holds the resources scoped to one run. It is created per
// invocation and released on every exit path.
type RunContext struct {
	Invocation Invocation
	Params     params.Parameters
	Handle     *runrecord.Handle
	Session    *search.Session
	Sink       storage.RecordSink

	state  State
	logger *slog.Logger
}

func (rc *RunContext) advance(s State) {
	rc.state = s
	rc.logger.Debug("run state", "state", s)
}

// State returns the current state.
func (rc *RunContext) State() State {
	return rc.state
}

func (rc *RunContext) release() {
	if rc.Session != nil {
		rc.Session.Close()
		rc.Session = nil
	}
}

// Run executes one invocation. Failures before the run row exists are returned
// as errors and leave no row. Failures after that close the run FAILED and are
// reported in the Outcome; the error is then non-nil only if the closing write
// itself failed.
func (o *Orchestrator) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	rc := &RunContext{
		Invocation: inv,
		Sink:       o.sink,
		state:      StateInit,
		logger:     o.logger.With("source_id", inv.SourceID),
	}
	out := Outcome{SourceID: inv.SourceID, State: StateInit}

	p, err := o.params.Resolve(ctx, inv.SourceID)
	if err != nil {
		return o.preflightFailure(rc, out, "parameters", err)
	}
	rc.Params = p
	rc.advance(StateParameterized)
	out.State = StateParameterized

	h, err := o.recorder.Open(ctx, inv.SourceID, inv.TriggerTime, o.now())
	if err != nil {
		return o.preflightFailure(rc, out, "open", err)
	}
	rc.Handle = h
	rc.logger = rc.logger.With("run_id", h.RunID)
	rc.advance(StateRunOpened)
	defer rc.release()

	out.RunID = h.RunID
	out.Status = storage.StatusWIP
	out.State = StateRunOpened

	rows, err := o.execute(ctx, rc)
	if err != nil {
		return o.closeFailed(ctx, rc, out, err)
	}
	return o.closeOK(ctx, rc, out, rows)
}

// execute covers every step after the run is opened. A panic is turned into
// an error so the run still closes.
func (o *Orchestrator) execute(ctx context.Context, rc *RunContext) (rows int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic in state %s: %v", rc.state, r)
		}
	}()

	creds, err := o.credentials(ctx)
	if err != nil {
		return 0, err
	}

	session, err := o.searcher.Authenticate(ctx, creds)
	if err != nil {
		return 0, fmt.Errorf("authenticate: %w", err)
	}
	rc.Session = session

	q := search.Query{
		Text:       rc.Params.Query,
		Language:   rc.Params.Language,
		ResultType: rc.Params.SortBy,
		Count:      search.ClampCount(rc.Params.Count),
	}
	items, err := o.searcher.Search(ctx, session, q)
	if err != nil {
		return 0, fmt.Errorf("search: %w", err)
	}
	rc.advance(StateFetched)

	records := o.normalizer.NormalizeAll(items, normalize.Context{
		RunID:         rc.Handle.RunID,
		SourceID:      rc.Handle.SourceID,
		TriggerTime:   rc.Handle.TriggerTime,
		ExecutionTime: rc.Handle.StartTime,
		Query:         rc.Params.Query,
		Language:      rc.Params.Language,
	})
	rc.advance(StateNormalized)
	rc.logger.Debug("items normalized", "fetched", len(items), "rows", len(records))

	if len(records) > 0 {
		if err := rc.Sink.AppendRecords(ctx, records); err != nil {
			return 0, fmt.Errorf("append records: %w", err)
		}
	}
	rc.advance(StateLoaded)
	return len(records), nil
}

func (o *Orchestrator) credentials(ctx context.Context) (search.Credentials, error) {
	var creds search.Credentials
	fields := []struct {
		name string
		dst  *string
	}{
		{secrets.APIKey, &creds.APIKey},
		{secrets.APISecretKey, &creds.APISecretKey},
		{secrets.AccessToken, &creds.AccessToken},
		{secrets.AccessTokenSecret, &creds.AccessTokenSecret},
	}
	for _, f := range fields {
		v, err := o.secrets.Get(ctx, f.name)
		if err != nil {
			return search.Credentials{}, fmt.Errorf("%w: credentials: %w", search.ErrAuth, err)
		}
		*f.dst = v
	}
	return creds, nil
}

func (o *Orchestrator) preflightFailure(rc *RunContext, out Outcome, stage string, err error) (Outcome, error) {
	metrics.RecordPreflight(stage)
	rc.logger.Error("run not started", "stage", stage, "state", rc.state, "err", err)
	out.FailedAt = rc.state
	out.Cause = err
	return out, err
}

func (o *Orchestrator) closeFailed(ctx context.Context, rc *RunContext, out Outcome, cause error) (Outcome, error) {
	out.FailedAt = rc.state
	out.Cause = cause
	out.RowCount = 0

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := o.recorder.CloseFailure(cctx, rc.Handle, cause); err != nil {
		rc.logger.Error("failed to close run", "state", rc.state, "err", err)
		return out, err
	}

	rc.advance(StateClosedFailed)
	out.State = StateClosedFailed
	out.Status = storage.StatusFailed
	metrics.RecordRun(rc.Handle.SourceID, string(storage.StatusFailed), 0, o.now().Sub(rc.Handle.StartTime))
	rc.logger.Error("run failed", "state", out.FailedAt, "err", cause)
	return out, nil
}

func (o *Orchestrator) closeOK(ctx context.Context, rc *RunContext, out Outcome, rows int) (Outcome, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := o.recorder.CloseSuccess(cctx, rc.Handle, rows); err != nil {
		rc.logger.Error("failed to close run", "state", rc.state, "rows", rows, "err", err)
		out.Cause = err
		out.State = rc.state
		return out, err
	}

	rc.advance(StateClosedOK)
	out.State = StateClosedOK
	out.Status = storage.StatusOK
	out.RowCount = rows
	metrics.RecordRun(rc.Handle.SourceID, string(storage.StatusOK), rows, o.now().Sub(rc.Handle.StartTime))
	rc.logger.Info("run succeeded", "rows", rows)
	return out, nil
}
