// Package sandbox implements the scoped-acquisition contract the executor
// (C10) uses to run actions hermetically (spec §6): "enter(SandboxSpec) ->
// ScopedSandbox", guaranteeing release on every exit path. Only declared
// inputs are visible and only declared output paths are writable; the
// concrete enforcement mechanism is OS-specific, so this package picks a
// backend per runtime.GOOS, falling back to a no-op backend that
// satisfies the interface without isolation on unsupported platforms
// (spec §9).
package sandbox

import (
	"context"
)

// Spec describes the resource bounds one action execution gets (spec §6
// SandboxSpec).
type Spec struct {
	Inputs        map[string]string // declared input path -> source path to bind/copy in
	Outputs       []string          // declared writable output paths
	Env           map[string]string
	NetworkPolicy NetworkPolicy
	MaxMemoryMiB  int64
	MaxCPUSeconds int64
	Workdir       string
}

type NetworkPolicy int

const (
	NetworkDenied NetworkPolicy = iota
	NetworkAllowed
)

// ScopedSandbox is the live handle returned by Enter. Release is
// idempotent: calling it more than once, or after the context driving the
// action is already cancelled, must never panic or double-free resources.
type ScopedSandbox interface {
	// Root is the filesystem root the spawned command should run under
	// (for backends that construct an isolated view) or Workdir unchanged
	// (for the no-op backend).
	Root() string
	Env() []string
	Release() error
}

// Backend constructs sandboxes for one platform's isolation primitives.
type Backend interface {
	Enter(ctx context.Context, spec Spec) (ScopedSandbox, error)
}

// Default picks the backend appropriate for the current GOOS. Linux gets
// namespace isolation, Darwin gets a process-scoped profile; every other
// platform gets the no-op backend so development elsewhere still works,
// just without hermetic guarantees (spec §9). The actual selection lives
// in the GOOS-tagged sibling files (sandbox_linux.go, sandbox_darwin.go,
// sandbox_other.go) so this file compiles identically on every platform.
func Default() Backend {
	return platformBackend()
}
