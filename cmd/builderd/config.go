package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/remotecache"
)

// Config is the composition root's flattened view of spec §6's external
// interface surface: every BUILDER_* environment variable plus the flags
// that override them. Flags win over environment, environment wins over the
// defaults baked into cache.DefaultPolicy/remotecache.DefaultConfig.
type Config struct {
	CacheDir string

	CachePolicy cache.Policy
	Remote      remotecache.Config

	Workers int // 0 = auto (runtime.NumCPU)

	ListenAddr string // serve-cache / serve-worker bind address
	GCGrace    time.Duration
}

// bindFlags registers the subset of Config that makes sense as a flag on
// top of its environment-variable default, mirroring the teacher's daemon
// flag style: every flag's default is pre-resolved from the environment so
// `--help` output shows the value that would actually be used.
func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "root directory for the on-disk cache (BUILDER_CACHE_DIR)")
	fs.Int64Var(&cfg.CachePolicy.MaxSize, "cache-max-size", cfg.CachePolicy.MaxSize, "maximum total cache size in bytes (BUILDER_CACHE_MAX_SIZE)")
	fs.IntVar(&cfg.CachePolicy.MaxEntries, "cache-max-entries", cfg.CachePolicy.MaxEntries, "maximum number of cache entries per tier (BUILDER_CACHE_MAX_ENTRIES)")
	fs.DurationVar(&cfg.CachePolicy.MaxAge, "cache-max-age", cfg.CachePolicy.MaxAge, "maximum cache entry age (BUILDER_CACHE_MAX_AGE_DAYS, in days)")
	fs.StringVar(&cfg.Remote.Address, "remote-cache-url", cfg.Remote.Address, "remote cache address (BUILDER_REMOTE_CACHE_URL)")
	fs.BoolVar(&cfg.Remote.Enabled, "remote-cache-enabled", cfg.Remote.Enabled, "enable the remote cache tier (BUILDER_REMOTE_CACHE_ENABLED)")
	fs.BoolVar(&cfg.Remote.Push, "remote-cache-push", cfg.Remote.Push, "push local cache updates to the remote tier (BUILDER_REMOTE_CACHE_PUSH)")
	fs.BoolVar(&cfg.Remote.Compress, "remote-cache-compress", cfg.Remote.Compress, "compress blobs sent to the remote tier (BUILDER_REMOTE_CACHE_COMPRESS)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of scheduler/executor workers, 0 = auto (BUILDER_WORKERS)")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "bind address for serve-cache/serve-worker")
	fs.DurationVar(&cfg.GCGrace, "gc-grace", cfg.GCGrace, "grace period before an unreferenced blob is eligible for collection")
}

// loadConfig resolves defaults from the environment, spec §6's
// BUILDER_CACHE_DIR/_MAX_SIZE/_MAX_ENTRIES/_MAX_AGE_DAYS and
// BUILDER_REMOTE_CACHE_URL/_ENABLED/_PUSH/_COMPRESS and BUILDER_WORKERS.
func loadConfig() Config {
	policy := cache.DefaultPolicy()
	remote := remotecache.DefaultConfig()

	cfg := Config{
		CacheDir:    envOr("BUILDER_CACHE_DIR", ".builder-cache"),
		CachePolicy: policy,
		Remote:      remote,
		Workers:     0,
		ListenAddr:  envOr("BUILDER_LISTEN_ADDR", ":7070"),
		GCGrace:     10 * time.Minute,
	}

	if v, ok := envInt64("BUILDER_CACHE_MAX_SIZE"); ok {
		cfg.CachePolicy.MaxSize = v
	}
	if v, ok := envInt("BUILDER_CACHE_MAX_ENTRIES"); ok {
		cfg.CachePolicy.MaxEntries = v
	}
	if v, ok := envInt("BUILDER_CACHE_MAX_AGE_DAYS"); ok {
		cfg.CachePolicy.MaxAge = time.Duration(v) * 24 * time.Hour
	}

	cfg.Remote.Address = envOr("BUILDER_REMOTE_CACHE_URL", cfg.Remote.Address)
	if v, ok := envBool("BUILDER_REMOTE_CACHE_ENABLED"); ok {
		cfg.Remote.Enabled = v
	}
	if v, ok := envBool("BUILDER_REMOTE_CACHE_PUSH"); ok {
		cfg.Remote.Push = v
	}
	if v, ok := envBool("BUILDER_REMOTE_CACHE_COMPRESS"); ok {
		cfg.Remote.Compress = v
	}
	if v, ok := envInt("BUILDER_WORKERS"); ok {
		cfg.Workers = v
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
