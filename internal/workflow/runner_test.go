package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/license-watch/internal/credentials"
	"github.com/sells-group/license-watch/internal/history"
	"github.com/sells-group/license-watch/internal/metrics"
	"github.com/sells-group/license-watch/internal/model"
)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []Command
	exit   map[string]int
	stdout map[string]string
	errs   map[string]error
	block  chan struct{}
}

func (f *fakeExecutor) Exec(ctx context.Context, c Command) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Output{ExitCode: -1}, ctx.Err()
		}
	}
	if err := f.errs[c.Step]; err != nil {
		return Output{ExitCode: -1}, err
	}
	return Output{ExitCode: f.exit[c.Step], Stdout: f.stdout[c.Step]}, nil
}

func (f *fakeExecutor) steps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Step)
	}
	return out
}

func (f *fakeExecutor) call(step string) (Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Step == step {
			return c, true
		}
	}
	return Command{}, false
}

func testSecrets() map[string]string {
	return map[string]string{
		credentials.GeocodioAPIKey: "geo-key",
		credentials.FaunaSecret:    "fauna-secret",
		credentials.XataAPIKey:     "xau_key",
		credentials.XataDBURL:      "https://ws.us-east-1.xata.sh/db/licenses:main",
	}
}

func staticSecrets(names []string) (map[string]string, error) {
	all := testSecrets()
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = all[n]
	}
	return out, nil
}

// workTree creates a source tree with a go.mod so the install step's manifest
// check passes.
func workTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"),
		[]byte("module example.com/scraper\n\ngo 1.25\n"), 0o644))
	return dir
}

func newTestRunner(t *testing.T, ex *fakeExecutor, opts Options) *Runner {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = workTree(t)
	}
	opts.Executor = ex
	if opts.Secrets == nil {
		opts.Secrets = staticSecrets
	}
	if opts.LookupEnv == nil {
		parent := map[string]string{
			"PATH":              "/usr/local/go/bin:/usr/bin",
			"HOME":              "/home/runner",
			"AWS_ACCESS_KEY_ID": "should-not-leak",
			"LICENSE_WATCH_LOG": "debug",
		}
		opts.LookupEnv = func(k string) (string, bool) {
			v, ok := parent[k]
			return v, ok
		}
	}
	return NewRunner(Default(), opts)
}

func okExecutor() *fakeExecutor {
	return &fakeExecutor{stdout: map[string]string{"runtime": "go version go1.25.6 linux/amd64"}}
}

func TestRun_Success(t *testing.T) {
	ex := okExecutor()
	r := newTestRunner(t, ex, Options{})

	run, err := r.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, []string{"checkout", "runtime", "install", "scrape"}, ex.steps())
	require.Len(t, run.Steps, 4)
	for _, s := range run.Steps {
		assert.True(t, s.OK(), s.Name)
	}
	assert.NotNil(t, run.FinishedAt)
	assert.False(t, r.Running())

	c, ok := ex.call("checkout")
	require.True(t, ok)
	assert.Equal(t, "git", c.Name)
	assert.Equal(t, []string{"pull", "--ff-only"}, c.Args)
}

func TestRun_ScraperEnvHasExactlyTheSecrets(t *testing.T) {
	ex := okExecutor()
	r := newTestRunner(t, ex, Options{})

	_, err := r.Run(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	c, ok := ex.call("scrape")
	require.True(t, ok)

	got := map[string]string{}
	for _, kv := range c.Env {
		k, v, _ := strings.Cut(kv, "=")
		got[k] = v
	}
	for name, want := range testSecrets() {
		assert.Equal(t, want, got[name], name)
	}
	injected := map[string]bool{}
	for k := range got {
		injected[k] = true
	}
	for _, k := range DefaultInheritEnv {
		delete(injected, k)
	}
	for _, k := range credentials.Names() {
		delete(injected, k)
	}
	assert.Empty(t, injected, "unexpected variables in scraper env")
	assert.NotContains(t, got, "AWS_ACCESS_KEY_ID")

	setup, ok := ex.call("install")
	require.True(t, ok)
	for _, kv := range setup.Env {
		assert.False(t, strings.HasPrefix(kv, credentials.FaunaSecret+"="), "secret leaked into setup step")
	}
}

func TestRun_InstallFailureSkipsScraper(t *testing.T) {
	ex := okExecutor()
	ex.exit = map[string]int{"install": 1}
	r := newTestRunner(t, ex, Options{})

	run, err := r.Run(context.Background(), model.TriggerSchedule)
	require.Error(t, err)

	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "install", setupErr.Step)
	assert.Equal(t, 1, setupErr.ExitCode)

	assert.Equal(t, []string{"checkout", "runtime", "install"}, ex.steps())
	_, invoked := ex.call("scrape")
	assert.False(t, invoked)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestRun_MissingManifestSkipsInstall(t *testing.T) {
	ex := okExecutor()
	r := newTestRunner(t, ex, Options{WorkDir: t.TempDir()})

	_, err := r.Run(context.Background(), model.TriggerManual)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "install", setupErr.Step)
	assert.Equal(t, []string{"checkout", "runtime"}, ex.steps())
}

func TestRun_RuntimeMismatch(t *testing.T) {
	ex := &fakeExecutor{stdout: map[string]string{"runtime": "go version go1.22.1 linux/amd64"}}
	r := newTestRunner(t, ex, Options{})

	_, err := r.Run(context.Background(), model.TriggerManual)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "runtime", setupErr.Step)
	assert.Contains(t, err.Error(), "runtime mismatch")
}

func TestRun_ScraperFailureReportsFailed(t *testing.T) {
	ex := okExecutor()
	ex.exit = map[string]int{"scrape": 2}
	reg := prometheus.NewRegistry()
	r := newTestRunner(t, ex, Options{Metrics: metrics.New(reg)})

	run, err := r.Run(context.Background(), model.TriggerSchedule)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "scrape", execErr.Step)
	assert.Equal(t, 2, execErr.ExitCode)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "exit status 2")
	assert.Equal(t, 2, run.Steps[3].ExitCode)

	count, err := testutil.GatherAndCount(reg, "license_watch_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_MissingSecretsFailBeforeSteps(t *testing.T) {
	ex := okExecutor()
	r := newTestRunner(t, ex, Options{Secrets: func([]string) (map[string]string, error) {
		return nil, errors.New("credentials: missing XATA_DB_URL")
	}})

	_, err := r.Run(context.Background(), model.TriggerManual)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "credentials", setupErr.Step)
	assert.Empty(t, ex.steps())
}

func TestRun_StartFailure(t *testing.T) {
	ex := okExecutor()
	ex.errs = map[string]error{"checkout": errors.New("git: executable file not found")}
	r := newTestRunner(t, ex, Options{})

	run, err := r.Run(context.Background(), model.TriggerManual)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, -1, run.Steps[0].ExitCode)
}

func TestRun_MutuallyExclusive(t *testing.T) {
	ex := okExecutor()
	ex.block = make(chan struct{})
	r := newTestRunner(t, ex, Options{})

	id, err := r.Start(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, r.Running())

	_, err = r.Run(context.Background(), model.TriggerSchedule)
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = r.Start(context.Background(), model.TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(ex.block)
	assert.Eventually(t, func() bool { return !r.Running() }, 2*time.Second, 10*time.Millisecond)

	_, err = r.Run(context.Background(), model.TriggerManual)
	assert.NoError(t, err)
}

func TestRun_RecordsHistory(t *testing.T) {
	hist, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() }) //nolint:errcheck

	ex := okExecutor()
	ex.exit = map[string]int{"scrape": 1}
	r := newTestRunner(t, ex, Options{History: hist})

	run, err := r.Run(context.Background(), model.TriggerSchedule)
	require.Error(t, err)

	got, err := hist.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, model.TriggerSchedule, got.Trigger)
	require.Len(t, got.Steps, 4)
	assert.Equal(t, "scrape", got.Steps[3].Name)
	assert.Equal(t, 1, got.Steps[3].ExitCode)
}

func TestRun_CancelledContext(t *testing.T) {
	ex := okExecutor()
	ex.block = make(chan struct{})
	r := newTestRunner(t, ex, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, model.TriggerManual)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.Running())
}

func TestStart_WaitRecordsCancelledRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	hist, err := history.Open(context.Background(), path)
	require.NoError(t, err)

	ex := okExecutor()
	ex.block = make(chan struct{})
	r := newTestRunner(t, ex, Options{History: hist})

	ctx, cancel := context.WithCancel(context.Background())
	id, err := r.Start(ctx, model.TriggerManual)
	require.NoError(t, err)

	cancel()
	r.Wait()
	assert.False(t, r.Running())
	require.NoError(t, hist.Close())

	reopened, err := history.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() }) //nolint:errcheck

	got, err := reopened.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "context canceled")
}

func TestWait_NoBackgroundRuns(t *testing.T) {
	r := newTestRunner(t, okExecutor(), Options{})
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with no runs started")
	}
}
