package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/ir"
	"github.com/roach88/bpflow/internal/testutil"
)

// Catalog builds a staging function from scenario props.
type Catalog = func(props engine.Props) engine.StagingFunc

// Catalogs maps catalog names to builders.
type Catalogs = map[string]Catalog

// Option configures a harness run.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	maxActions int
	runID      string
}

// WithLogger logs engine activity to l instead of discarding it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxActions sets the per-update action limit of the engine.
func WithMaxActions(n int) Option {
	return func(o *options) { o.maxActions = n }
}

// WithRunID fixes the run id; testutil.DefaultRunID otherwise.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// Run executes a scenario against its catalog and checks its
// expectations. An error is returned only when the scenario cannot run at
// all (unknown catalog, malformed actions); failed expectations are
// reported in the result.
//
// Execution flow:
//  1. Build the catalog and a deterministic engine
//  2. Replay the recorded actions, or start live when there are none
//  3. Settle, then dispatch each dispatch step and settle again
//  4. Evaluate expectations against the final snapshot and log
func Run(ctx context.Context, catalogs Catalogs, s *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: testutil.DiscardLogger(), maxActions: engine.DefaultMaxActions}
	for _, opt := range opts {
		opt(&o)
	}

	build, ok := catalogs[s.Catalog]
	if !ok {
		return nil, fmt.Errorf("scenario %s: unknown catalog %q", s.Name, s.Catalog)
	}
	replay, err := s.replay()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	// Async work outlives a timed-out settle until Run returns.
	asyncCtx, cancelAsync := context.WithCancel(ctx)
	defer cancelAsync()
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	e := engine.New(build(engine.Props(s.Props)),
		engine.WithLogger(o.logger),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(o.runID)),
		engine.WithMaxActions(o.maxActions),
		engine.WithAsyncContext(asyncCtx),
	)

	result := NewResult()
	var errs []error
	if len(replay.Actions) > 0 {
		if _, err := e.StartReplay(replay); err != nil {
			errs = append(errs, err)
		}
	}
	c, err := e.Settle(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	for i, d := range s.Dispatch {
		id, _ := d.Event.ID()
		accepted := c.Dispatch(id, d.Payload)
		if accepted == d.Refused {
			result.AddError(fmt.Sprintf("dispatch[%d] %s: accepted=%t, want %t", i, id, accepted, !d.Refused))
		}
		if c, err = e.Settle(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	result.Log = e.Log()
	result.Trace = result.Log.Trace()
	result.Replay = c.Replay
	result.Actions = c.ActionID
	if result.Digest, err = ir.TraceDigest(result.Trace); err != nil {
		return nil, fmt.Errorf("scenario %s: digest: %w", s.Name, err)
	}

	for _, err := range flatten(errors.Join(errs...)) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result.AddError(fmt.Sprintf("run did not settle within %s", s.timeout()))
		case engine.IsScenarioError(err):
			result.Failures = append(result.Failures, err.Error())
		case isDivergence(err):
			// Reported through result.Replay.
		default:
			result.AddError(err.Error())
		}
	}

	for _, msg := range evaluate(c, result, s.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

func isDivergence(err error) bool {
	var re *engine.RuntimeError
	return errors.As(err, &re) && re.Code == engine.ErrCodeReplayDiverged
}

// flatten unwraps errors.Join trees into their leaves.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
