// Package executor implements C10: the dispatcher that turns one
// graph.Action into a completed result. It consults the cache coordinator
// first, resolves and materializes declared inputs, runs the action inside
// a scoped sandbox, captures its outputs and logs into the content store,
// and records the result — retrying per spec §4.9's per-category policy and
// tracking flaky-test history along the way.
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/coordinator"
	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
	"github.com/buildforge/engine/events"
	"github.com/buildforge/engine/graph"
	"github.com/buildforge/engine/sandbox"
	"github.com/buildforge/engine/sched"
)

// ActionResult is what Execute returns for one action, whether it came from
// a cache hit or a fresh run.
type ActionResult struct {
	Fingerprint   digest.Digest
	Status        graph.Status
	ExitCode      int
	Duration      time.Duration
	OutputDigests []digest.Digest
	StdoutDigest  digest.Digest
	StderrDigest  digest.Digest
	Cached        bool
	Attempts      int
	Err           error
}

// Executor runs actions with bounded concurrency (spec §5 "the executor
// queue is bounded; update calls that would push beyond the bound block the
// submitter, never drop").
type Executor struct {
	coord   *coordinator.Coordinator
	store   *cas.Store
	backend sandbox.Backend
	retry   RetryPolicy
	flaky   *FlakyEstimator
	bus     *events.Bus
	log     logrus.FieldLogger

	sem *semaphore.Weighted
}

// New builds an Executor. maxConcurrent bounds in-flight action executions
// (spec §5's backpressure bound); defaulting to the worker count is the
// caller's responsibility, mirroring spec §4.9's "default = #workers".
func New(coord *coordinator.Coordinator, store *cas.Store, backend sandbox.Backend, retry RetryPolicy, maxConcurrent int, bus *events.Bus, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if backend == nil {
		backend = sandbox.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		coord:   coord,
		store:   store,
		backend: backend,
		retry:   retry,
		flaky:   NewFlakyEstimator(),
		bus:     bus,
		log:     log,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Flaky exposes the estimator so the caller wiring cmd/builderd can persist
// or inspect it between builds.
func (e *Executor) Flaky() *FlakyEstimator { return e.flaky }

// Dispatch returns a sched.Job for one action plus the node it was lowered
// from, for submission onto the scheduler.
func Dispatch(action *graph.Action, node *graph.Node) sched.Job {
	return newActionJob(action, node)
}

// Execute implements the spec §4.9 contract. ctx carries the per-action
// timeout (the caller is expected to have wrapped it with context.WithTimeout
// per action.Timeout); cancellation also arrives through ctx.
func (e *Executor) Execute(ctx context.Context, action *graph.Action) ActionResult {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return ActionResult{Status: graph.Cancelled, Err: errdefs.AsSystemProcess(err)}
	}
	defer e.sem.Release(1)

	fp := action.Fingerprint()
	e.publish(events.ActionStart, fp, map[string]interface{}{"action": action.ID.String()})

	if entry, ok := e.coord.IsCachedAction(fp); ok {
		res := ActionResult{
			Fingerprint:   fp,
			Status:        graph.SkippedCached,
			ExitCode:      entry.ExitCode,
			Duration:      entry.Duration,
			OutputDigests: entry.OutputDigests,
			StdoutDigest:  entry.StdoutDigest,
			StderrDigest:  entry.StderrDigest,
			Cached:        true,
		}
		e.publish(events.ActionComplete, fp, map[string]interface{}{"cached": true})
		return res
	}

	res := e.runWithRetry(ctx, action, fp)
	e.publish(events.ActionComplete, fp, map[string]interface{}{
		"cached": false, "attempts": res.Attempts, "status": res.Status.String(),
	})
	return res
}

// runWithRetry implements spec §4.9's retry policy plus the flaky-test
// override for ActionTest actions: a test's attempt budget is the larger of
// its category's budget and its Bayesian-estimated flakiness budget; when the
// flakiness budget is the larger, the test is retried whatever the failure's
// category, and a failure does not fail the build if a later attempt
// succeeds.
func (e *Executor) runWithRetry(ctx context.Context, action *graph.Action, fp digest.Digest) ActionResult {
	testID := ""
	if action.ID.Type == graph.ActionTest {
		testID = action.ID.String()
	}

	var lastRes ActionResult
	attempt := 0
	for {
		attempt++
		lastRes = e.executeOnce(ctx, action, fp)
		lastRes.Attempts = attempt

		if testID != "" {
			e.flaky.Record(testID, lastRes.Status == graph.Failed)
		}
		if lastRes.Status != graph.Failed {
			return lastRes
		}

		cat := errdefs.CategoryOf(lastRes.Err)
		budget := e.retry.MaxAttempts(cat)
		retryable := errdefs.Retryable(lastRes.Err)
		if testID != "" {
			if fromFlaky := e.flaky.RetryBudget(testID); fromFlaky > budget {
				budget = fromFlaky
				retryable = true
			}
		}
		if attempt >= budget || !retryable {
			return lastRes
		}

		delay := e.retry.nextBackOff(cat, attempt)
		select {
		case <-ctx.Done():
			lastRes.Status = graph.Cancelled
			lastRes.Err = errdefs.Cancelled(ctx.Err())
			return lastRes
		case <-time.After(delay):
		}
		// a retry attempt never shares a fingerprint cache-hit (spec §4.9);
		// it is a fresh execution, which executeOnce always is since it
		// never consults the coordinator itself.
	}
}

// executeOnce runs the command exactly once: resolves inputs, opens a
// sandbox, spawns the command, captures output, and on success records the
// result in C6. It never retries and never consults the cache for a hit —
// that is the caller's job.
func (e *Executor) executeOnce(ctx context.Context, action *graph.Action, fp digest.Digest) ActionResult {
	start := time.Now()

	inputs := make(map[string]string, len(action.Inputs))
	for _, in := range action.Inputs {
		if !e.store.Has(in) {
			return ActionResult{Fingerprint: fp, Status: graph.Failed, Err: errdefs.AsIO(errdefs.Newf(errdefs.IO, "input blob %s not in store", in))}
		}
		// action.Inputs carries no declared destination path (graph's
		// lowering only fingerprints content), so the digest's own hex
		// string doubles as the declared path the sandbox stages it under.
		inputs[in.Hex()] = e.store.BlobPath(in)
	}

	spec := sandbox.Spec{
		Inputs:        inputs,
		Outputs:       action.Outputs,
		Env:           action.Env,
		NetworkPolicy: sandbox.NetworkDenied,
		Workdir:       "",
	}
	box, err := e.backend.Enter(ctx, spec)
	if err != nil {
		return ActionResult{Fingerprint: fp, Status: graph.Failed, Err: errdefs.AsSystemProcess(err)}
	}
	defer box.Release()

	if box.Root() != "" {
		if err := os.MkdirAll(box.Root(), 0o755); err != nil {
			return ActionResult{Fingerprint: fp, Status: graph.Failed, Err: errdefs.AsIO(err)}
		}
	}

	if len(action.Command) == 0 {
		return ActionResult{Fingerprint: fp, Status: graph.Failed, Err: errdefs.AsBuild(errdefs.New(errdefs.Build, "empty command"))}
	}

	argv := append([]string(nil), action.Command...)
	if prof, ok := box.(interface{ ProfilePath() string }); ok {
		argv = append([]string{"sandbox-exec", "-f", prof.ProfilePath()}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = box.Env()
	if box.Root() != "" {
		cmd.Dir = box.Root()
	}
	if ns, ok := box.(interface{ SysProcAttr() *syscall.SysProcAttr }); ok {
		cmd.SysProcAttr = ns.SysProcAttr()
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		e.recordFailure(fp, duration, &stdout, &stderr, -1)
		return ActionResult{Fingerprint: fp, Status: graph.Failed, Duration: duration, Err: errdefs.AsSystemProcess(errdefs.Newf(errdefs.SystemProcess, "action timed out"))}
	}
	if ctx.Err() == context.Canceled {
		return ActionResult{Fingerprint: fp, Status: graph.Cancelled, Duration: duration, Err: errdefs.Cancelled(ctx.Err())}
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			e.recordFailure(fp, duration, &stdout, &stderr, exitCode)
			return ActionResult{Fingerprint: fp, Status: graph.Failed, Duration: duration, ExitCode: exitCode, Err: errdefs.AsBuild(errdefs.Newf(errdefs.Build, "action exited %d", exitCode))}
		}
		return ActionResult{Fingerprint: fp, Status: graph.Failed, Duration: duration, Err: errdefs.AsSystemProcess(runErr)}
	}

	outDigests, stdoutDigest, stderrDigest, err := e.commitOutputs(box.Root(), action.Outputs, &stdout, &stderr)
	if err != nil {
		return ActionResult{Fingerprint: fp, Status: graph.Failed, Duration: duration, Err: err}
	}

	entry := cache.ActionEntry{
		Fingerprint:   fp,
		OutputDigests: outDigests,
		StdoutDigest:  stdoutDigest,
		StderrDigest:  stderrDigest,
		ExitCode:      exitCode,
		Duration:      duration,
		Failed:        false,
		Timestamp:     time.Now(),
	}
	if err := e.coord.UpdateAction(entry); err != nil {
		e.log.WithError(err).Warn("executor: failed to record action result")
	}

	return ActionResult{
		Fingerprint:   fp,
		Status:        graph.Succeeded,
		Duration:      duration,
		ExitCode:      exitCode,
		OutputDigests: outDigests,
		StdoutDigest:  stdoutDigest,
		StderrDigest:  stderrDigest,
	}
}

// commitOutputs hashes each declared output file into C1 in declaration
// order, plus the captured stdout/stderr streams.
func (e *Executor) commitOutputs(root string, outputs []string, stdout, stderr *bytes.Buffer) ([]digest.Digest, digest.Digest, digest.Digest, error) {
	outDigests := make([]digest.Digest, 0, len(outputs))
	for _, out := range outputs {
		path := out
		if root != "" {
			path = filepath.Join(root, out)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, digest.Digest{}, digest.Digest{}, errdefs.AsIO(err)
		}
		d, err := e.store.Put(b)
		if err != nil {
			return nil, digest.Digest{}, digest.Digest{}, errdefs.AsIO(err)
		}
		outDigests = append(outDigests, d)
	}
	stdoutDigest, err := e.store.Put(stdout.Bytes())
	if err != nil {
		return nil, digest.Digest{}, digest.Digest{}, errdefs.AsIO(err)
	}
	stderrDigest, err := e.store.Put(stderr.Bytes())
	if err != nil {
		return nil, digest.Digest{}, digest.Digest{}, errdefs.AsIO(err)
	}
	return outDigests, stdoutDigest, stderrDigest, nil
}

// recordFailure records a failed attempt in C6 with Failed=true so the
// hybrid eviction policy applies the shorter failed-entry TTL (spec
// §4.5/§4.9). Blob commits here are best-effort: a failed action's stdout
// and stderr are still useful diagnostic context even if the outputs were
// never produced.
func (e *Executor) recordFailure(fp digest.Digest, duration time.Duration, stdout, stderr *bytes.Buffer, exitCode int) {
	stdoutDigest, err := e.store.Put(stdout.Bytes())
	if err != nil {
		e.log.WithError(err).Debug("executor: could not persist failed stdout")
	}
	stderrDigest, err := e.store.Put(stderr.Bytes())
	if err != nil {
		e.log.WithError(err).Debug("executor: could not persist failed stderr")
	}
	entry := cache.ActionEntry{
		Fingerprint:  fp,
		StdoutDigest: stdoutDigest,
		StderrDigest: stderrDigest,
		ExitCode:     exitCode,
		Duration:     duration,
		Failed:       true,
		Timestamp:    time.Now(),
	}
	if err := e.coord.UpdateAction(entry); err != nil {
		e.log.WithError(err).Warn("executor: failed to record failed action")
	}
}

func (e *Executor) publish(t events.Type, fp digest.Digest, fields map[string]interface{}) {
	e.bus.Publish(events.New(t, fp.String(), fields))
}
