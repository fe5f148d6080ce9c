package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/provision"
)

// Recorder persists run progress.
type Recorder interface {
	Start(ctx context.Context, trigger model.Trigger) (*model.Run, error)
	RecordStep(ctx context.Context, runID string, step model.StepResult) error
	Complete(ctx context.Context, runID string) error
	Fail(ctx context.Context, runID string, reason string) error
}

// SecretResolver returns a value for every requested name, or an error naming
// the missing ones.
type SecretResolver func(names []string) (map[string]string, error)

// Options configures a Runner.
type Options struct {
	// WorkDir is the source tree the steps run in.
	WorkDir  string
	Executor Executor
	Secrets  SecretResolver
	History  Recorder
	Metrics  *metrics.Metrics
	// LookupEnv reads the parent environment. Default: os.LookupEnv.
	LookupEnv LookupFunc
}

// Runner executes a Definition. Runs are mutually exclusive.
type Runner struct {
	def     *Definition
	opts    Options
	running atomic.Bool
	bg      sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(def *Definition, opts Options) *Runner {
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if opts.Executor == nil {
		opts.Executor = NewProcessExecutor()
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	return &Runner{def: def, opts: opts}
}

// Definition returns the workflow being run.
func (r *Runner) Definition() *Definition { return r.def }

// Running reports whether a run is active.
func (r *Runner) Running() bool { return r.running.Load() }

// Run executes every step in order and returns the finished run. The error is
// a *SetupError or *ExecutionError when a step fails, and ErrRunInProgress when
// another run is active.
func (r *Runner) Run(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	run, err := r.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	return run, r.execute(ctx, run)
}

// Start begins a run in the background and returns its id once recorded. Call
// Wait before closing the history store.
func (r *Runner) Start(ctx context.Context, trigger model.Trigger) (string, error) {
	run, err := r.begin(ctx, trigger)
	if err != nil {
		return "", err
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		_ = r.execute(ctx, run)
	}()
	return run.ID, nil
}

// Wait blocks until every run launched by Start has finished and been recorded.
func (r *Runner) Wait() {
	r.bg.Wait()
}

func (r *Runner) begin(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	if r.opts.History == nil {
		return &model.Run{
			ID:        uuid.New().String(),
			Trigger:   trigger,
			Status:    model.RunStatusRunning,
			StartedAt: time.Now().UTC(),
		}, nil
	}
	run, err := r.opts.History.Start(ctx, trigger)
	if err != nil {
		r.running.Store(false)
		return nil, eris.Wrap(err, "workflow: record run start")
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *model.Run) error {
	defer r.running.Store(false)
	log := zap.L().With(
		zap.String("component", "workflow"),
		zap.String("run_id", run.ID),
		zap.String("trigger", string(run.Trigger)),
	)
	log.Info("run started", zap.String("workflow", r.def.Name), zap.Int("steps", len(r.def.Steps)))

	runErr := r.steps(ctx, run, log)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	// Recording must survive a cancelled run context.
	recCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
		log.Error("run failed", zap.Error(runErr), zap.Duration("duration", run.Duration()))
		if r.opts.History != nil {
			if err := r.opts.History.Fail(recCtx, run.ID, run.Error); err != nil {
				log.Error("record run failure", zap.Error(err))
			}
		}
	} else {
		run.Status = model.RunStatusSucceeded
		log.Info("run succeeded", zap.Duration("duration", run.Duration()))
		if r.opts.History != nil {
			if err := r.opts.History.Complete(recCtx, run.ID); err != nil {
				log.Error("record run completion", zap.Error(err))
			}
		}
	}
	r.opts.Metrics.ObserveRun(string(run.Trigger), string(run.Status), run.Duration(), finished)
	return runErr
}

func (r *Runner) steps(ctx context.Context, run *model.Run, log *zap.Logger) error {
	var secrets map[string]string
	if names := r.def.Secrets(); len(names) > 0 {
		if r.opts.Secrets == nil {
			return &SetupError{Step: "credentials", ExitCode: -1, Err: eris.New("no secret resolver configured")}
		}
		var err error
		if secrets, err = r.opts.Secrets(names); err != nil {
			return &SetupError{Step: "credentials", ExitCode: -1, Err: err}
		}
	}

	for _, step := range r.def.Steps {
		res, err := r.step(ctx, step, secrets, log)
		run.Steps = append(run.Steps, res)
		r.opts.Metrics.ObserveStep(step.Name, string(step.Phase), res.Duration, err == nil)
		if r.opts.History != nil {
			if herr := r.opts.History.RecordStep(context.WithoutCancel(ctx), run.ID, res); herr != nil {
				log.Error("record step", zap.String("step", step.Name), zap.Error(herr))
			}
		}
		if err == nil {
			continue
		}
		if step.Phase == model.PhaseSetup {
			return &SetupError{Step: step.Name, ExitCode: res.ExitCode, Err: err}
		}
		return &ExecutionError{Step: step.Name, ExitCode: res.ExitCode, Err: err}
	}
	return nil
}

func (r *Runner) step(ctx context.Context, step Step, secrets map[string]string, log *zap.Logger) (model.StepResult, error) {
	res := model.StepResult{Name: step.Name, Phase: step.Phase, StartedAt: time.Now().UTC()}
	fail := func(code int, err error) (model.StepResult, error) {
		res.ExitCode = code
		res.Error = err.Error()
		res.Duration = time.Since(res.StartedAt)
		log.Error("step failed", zap.String("step", step.Name), zap.Int("exit_code", code), zap.Error(err))
		return res, err
	}

	dir := filepath.Join(r.opts.WorkDir, step.Dir)
	if step.Manifest != "" {
		m, err := provision.LoadManifest(filepath.Join(dir, step.Manifest))
		if err != nil {
			return fail(-1, err)
		}
		log.Info("manifest ok",
			zap.String("step", step.Name),
			zap.String("manifest", m.Path),
			zap.Int("requirements", len(m.Requirements)),
		)
	}

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.Timeout))
		defer cancel()
	}

	log.Info("step started", zap.String("step", step.Name), zap.Strings("run", step.Run))
	out, err := r.opts.Executor.Exec(ctx, Command{
		Step: step.Name,
		Name: step.Run[0],
		Args: step.Run[1:],
		Dir:  dir,
		Env:  BuildEnv(r.def.InheritEnv, r.opts.LookupEnv, secrets, step.Secrets),
	})
	if err != nil {
		return fail(out.ExitCode, err)
	}
	if out.ExitCode != 0 {
		return fail(out.ExitCode, &exitError{code: out.ExitCode})
	}
	if step.RuntimeVersion != "" {
		if err := provision.CheckRuntime(out.Stdout, step.RuntimeVersion); err != nil {
			return fail(-1, err)
		}
	}

	res.Duration = time.Since(res.StartedAt)
	log.Info("step finished", zap.String("step", step.Name), zap.Duration("duration", res.Duration))
	return res, nil
}
