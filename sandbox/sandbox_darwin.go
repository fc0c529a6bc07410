//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

func platformBackend() Backend { return DarwinBackend{} }

// DarwinBackend isolates an action using a per-process sandbox-exec
// profile (spec §9 "process-scoped profile on macOS"): a Seatbelt (.sb)
// profile granting read access to declared inputs and write access to
// declared outputs, denying everything else by default. The executor
// prefixes the spawned command with `sandbox-exec -f <ProfilePath()>`.
type DarwinBackend struct{}

func (DarwinBackend) Enter(_ context.Context, spec Spec) (ScopedSandbox, error) {
	dir, err := os.MkdirTemp("", "builder-sandbox-*")
	if err != nil {
		return nil, err
	}
	profilePath := filepath.Join(dir, "profile.sb")
	if err := os.WriteFile(profilePath, []byte(renderProfile(spec)), 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &darwinSandbox{spec: spec, dir: dir, profilePath: profilePath}, nil
}

func renderProfile(spec Spec) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n(allow process-fork)\n(allow process-exec)\n")
	for _, src := range spec.Inputs {
		fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", src)
	}
	for _, out := range spec.Outputs {
		fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", filepath.Dir(out))
	}
	if spec.NetworkPolicy == NetworkAllowed {
		b.WriteString("(allow network*)\n")
	}
	return b.String()
}

type darwinSandbox struct {
	spec        Spec
	dir         string
	profilePath string

	once       sync.Once
	releaseErr error
}

func (s *darwinSandbox) Root() string { return s.spec.Workdir }

func (s *darwinSandbox) Env() []string { return envSlice(s.spec.Env) }

// ProfilePath exposes the generated Seatbelt profile for the executor to
// pass to `sandbox-exec -f`.
func (s *darwinSandbox) ProfilePath() string { return s.profilePath }

func (s *darwinSandbox) Release() error {
	s.once.Do(func() {
		s.releaseErr = os.RemoveAll(s.dir)
	})
	return s.releaseErr
}
