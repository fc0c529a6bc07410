// Command builderd is the composition root: it wires the content store,
// the layered cache tiers, the cache coordinator, the scheduler/executor,
// and (optionally) the cluster dispatcher together behind a handful of
// subcommands, the way the teacher's own daemon binaries stitch their
// subsystems together behind a single entrypoint.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/buildforge/engine/analyzer"
	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/cluster"
	"github.com/buildforge/engine/coordinator"
	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/errdefs"
	"github.com/buildforge/engine/events"
	"github.com/buildforge/engine/executor"
	"github.com/buildforge/engine/graph"
	"github.com/buildforge/engine/remotecache"
	"github.com/buildforge/engine/runner"
	"github.com/buildforge/engine/sandbox"
)

func main() {
	log := newLogger()

	sub := "build"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub = args[0]
		args = args[1:]
	}

	cfg := loadConfig()
	fs := pflag.NewFlagSet(sub, pflag.ExitOnError)
	bindFlags(fs, &cfg)
	targetsPath := fs.String("targets", "targets.json", "path to the JSON target list (build subcommand)")
	keepGoing := fs.Bool("keep-going", false, "continue past a failed target's unaffected siblings (build subcommand)")
	if err := fs.Parse(args); err != nil {
		log.WithError(err).Fatal("builderd: failed to parse flags")
	}

	stores, err := openStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("builderd: failed to open cache stores")
	}
	defer stores.close()

	switch sub {
	case "build":
		err = runBuild(cfg, stores, *targetsPath, *keepGoing, log)
	case "serve-cache":
		err = runServeCache(cfg, stores, log)
	case "serve-worker":
		err = runServeWorker(cfg, stores, log)
	case "gc":
		err = runGC(cfg, stores, log)
	default:
		err = fmt.Errorf("builderd: unknown subcommand %q (want build, serve-cache, serve-worker, or gc)", sub)
	}
	if err != nil {
		log.WithError(err).Fatal("builderd: command failed")
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	level := logrus.InfoLevel
	if s := os.Getenv("BUILDER_LOG_LEVEL"); s != "" {
		if l, err := logrus.ParseLevel(s); err == nil {
			level = l
		}
	}
	log.SetLevel(level)
	return log
}

// stores bundles every long-lived handle the subcommands share, so main can
// open them once up front and close them uniformly regardless of which
// subcommand ran.
type stores struct {
	blobs       *cas.Store
	targets     *cache.TargetCache
	actions     *cache.ActionCache
	analyzer    *analyzer.Store
	remote      *remotecache.Client
	coordinator *coordinator.Coordinator
	bus         *events.Bus
}

func (s *stores) close() {
	if s.remote != nil {
		s.remote.Close()
	}
	if s.analyzer != nil {
		s.analyzer.Close()
	}
	if s.targets != nil {
		s.targets.Close()
	}
	if s.actions != nil {
		s.actions.Close()
	}
	s.bus.Close()
}

// openStores lays out the on-disk cache root per spec §6:
// <cache-dir>/blobs, <cache-dir>/targets/index.bin,
// <cache-dir>/actions/index.bin, <cache-dir>/incremental/analyzer.db.
func openStores(cfg Config, log logrus.FieldLogger) (*stores, error) {
	blobsDir := filepath.Join(cfg.CacheDir, "blobs")
	targetsDir := filepath.Join(cfg.CacheDir, "targets")
	actionsDir := filepath.Join(cfg.CacheDir, "actions")
	incrementalDir := filepath.Join(cfg.CacheDir, "incremental")
	for _, d := range []string{blobsDir, targetsDir, actionsDir, incrementalDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errdefs.AsIO(err)
		}
	}

	blobs, err := cas.Open(blobsDir, log)
	if err != nil {
		return nil, err
	}
	targetCache, err := cache.OpenTargetCache(filepath.Join(targetsDir, "index.bin"), cfg.CachePolicy, blobs)
	if err != nil {
		return nil, err
	}
	actionCache, err := cache.OpenActionCache(filepath.Join(actionsDir, "index.bin"), cfg.CachePolicy, blobs)
	if err != nil {
		return nil, err
	}
	analyzerStore, err := analyzer.OpenStore(filepath.Join(incrementalDir, "analyzer.db"))
	if err != nil {
		return nil, err
	}

	// build and gc are short CLI invocations that already log the outcomes
	// that matter (build's per-target results, gc's scan/evict counts), so
	// no subscriber is attached here. serve-cache/serve-worker subscribe the
	// log sink themselves once they're running, since those processes live
	// long enough for the per-event detail to be worth the noise.
	bus := events.NewBus()

	var remote *remotecache.Client
	if cfg.Remote.Enabled {
		remote, err = remotecache.Dial(cfg.Remote, log)
		if err != nil {
			return nil, errdefs.AsRemote(err)
		}
	}

	coord := coordinator.New(blobs, targetCache, actionCache, remote, bus, log)

	return &stores{
		blobs:       blobs,
		targets:     targetCache,
		actions:     actionCache,
		analyzer:    analyzerStore,
		remote:      remote,
		coordinator: coord,
		bus:         bus,
	}, nil
}

func numWorkers(cfg Config) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// sourceDigestFunc adapts the analyzer (C3) into a graph.SourceDigestFunc,
// so graph.Build's fingerprinting and the runner's lowering both see
// incrementally-cached per-file content digests instead of re-hashing every
// source on every build.
func sourceDigestFunc(an *analyzer.Analyzer) graph.SourceDigestFunc {
	return func(t *graph.Target) ([]digest.Digest, error) {
		ta, err := an.Analyze(t.Sources, t.Language)
		if err != nil {
			return nil, err
		}
		out := make([]digest.Digest, len(ta.Files))
		for i, f := range ta.Files {
			if !f.Valid {
				return nil, errdefs.AsParseAnalysis(fmt.Errorf("%s: %s", f.Path, strings.Join(f.Errors, "; ")))
			}
			out[i] = f.Content
		}
		return out, nil
	}
}

func runBuild(cfg Config, st *stores, targetsPath string, keepGoing bool, log logrus.FieldLogger) error {
	targets, err := loadTargets(targetsPath)
	if err != nil {
		return err
	}

	an := analyzer.New(st.analyzer)
	srcFn := sourceDigestFunc(an)

	dag, err := graph.Build(targets, srcFn)
	if err != nil {
		return err
	}

	workers := numWorkers(cfg)
	exec := executor.New(st.coordinator, st.blobs, sandbox.Default(), executor.DefaultRetryPolicy(), workers, st.bus, log)
	opts := runner.DefaultOptions(workers)
	opts.KeepGoing = keepGoing
	run := runner.New(exec, graph.DefaultLowerer{}, srcFn, opts, log)

	results, err := run.Run(context.Background(), dag)
	failures := 0
	for _, r := range results {
		entry := log.WithField("target", string(r.Label)).WithField("status", r.Status.String())
		if r.Status == graph.Failed || r.Status == graph.Cancelled {
			failures++
			entry.WithError(r.Err).Warn("builderd: target did not succeed")
		} else {
			entry.Info("builderd: target finished")
		}
	}
	if err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("builderd: %d of %d targets did not succeed", failures, len(results))
	}
	return nil
}

func runServeCache(cfg Config, st *stores, log logrus.FieldLogger) error {
	sink := events.NewLogSink(log)
	defer st.bus.Unsubscribe(st.bus.Subscribe(sink))

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errdefs.AsIO(err)
	}
	srv := grpc.NewServer()
	remotecache.RegisterCacheServer(srv, remotecache.NewServer(st.blobs))
	log.WithField("addr", cfg.ListenAddr).Info("builderd: serving remote cache")
	return srv.Serve(lis)
}

func runServeWorker(cfg Config, st *stores, log logrus.FieldLogger) error {
	sink := events.NewLogSink(log)
	defer st.bus.Unsubscribe(st.bus.Subscribe(sink))

	workers := numWorkers(cfg)
	exec := executor.New(st.coordinator, st.blobs, sandbox.Default(), executor.DefaultRetryPolicy(), workers, st.bus, log)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errdefs.AsIO(err)
	}
	srv := grpc.NewServer()
	cluster.RegisterWorkerServer(srv, cluster.NewActionServer(exec))
	log.WithField("addr", cfg.ListenAddr).Info("builderd: serving as a cluster worker")
	return srv.Serve(lis)
}

func runGC(cfg Config, st *stores, log logrus.FieldLogger) error {
	result, err := st.coordinator.RunGC(cfg.GCGrace)
	if err != nil {
		return err
	}
	log.WithField("scanned", result.Scanned).
		WithField("evicted", result.Evicted).
		WithField("bytes_freed", result.BytesFreed).
		Info("builderd: gc complete")
	return nil
}
