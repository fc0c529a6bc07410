//go:build linux

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

func platformBackend() Backend { return LinuxBackend{} }

// LinuxBackend isolates an action using mount/PID/network namespaces
// (spec §9 "namespace-based on Linux"). Declared inputs are symlinked into
// a private root so only they are visible under it; declared outputs get
// their parent directories pre-created and left writable. The executor
// attaches SysProcAttr() to the exec.Cmd it builds so the spawned process
// actually enters the namespaces; this package only prepares the view and
// the attribute set.
type LinuxBackend struct{}

func (LinuxBackend) Enter(_ context.Context, spec Spec) (ScopedSandbox, error) {
	root, err := os.MkdirTemp("", "builder-sandbox-*")
	if err != nil {
		return nil, err
	}
	for dst, src := range spec.Inputs {
		target := filepath.Join(root, dst)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			os.RemoveAll(root)
			return nil, err
		}
		if err := os.Symlink(src, target); err != nil {
			os.RemoveAll(root)
			return nil, err
		}
	}
	for _, out := range spec.Outputs {
		if err := os.MkdirAll(filepath.Join(root, filepath.Dir(out)), 0o755); err != nil {
			os.RemoveAll(root)
			return nil, err
		}
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS)
	if spec.NetworkPolicy == NetworkDenied {
		cloneFlags |= syscall.CLONE_NEWNET
	}

	return &linuxSandbox{
		spec: spec,
		root: root,
		attr: &syscall.SysProcAttr{Cloneflags: cloneFlags},
	}, nil
}

type linuxSandbox struct {
	spec Spec
	root string
	attr *syscall.SysProcAttr

	once       sync.Once
	releaseErr error
}

func (s *linuxSandbox) Root() string { return s.root }

func (s *linuxSandbox) Env() []string { return envSlice(s.spec.Env) }

// SysProcAttr exposes the namespace flags for the executor to attach to
// the exec.Cmd it builds; type-asserted against this optional interface
// since the contract (ScopedSandbox) is the same across backends.
func (s *linuxSandbox) SysProcAttr() *syscall.SysProcAttr { return s.attr }

func (s *linuxSandbox) Release() error {
	s.once.Do(func() {
		s.releaseErr = os.RemoveAll(s.root)
	})
	return s.releaseErr
}
