// Package graph implements C4: the target/action DAG, cycle detection,
// fingerprinting inputs, and node lifecycle. Node status fields are atomic
// (spec §5 "Graph — node status fields are atomic; edge lists are immutable
// after construction") so the scheduler and executor can mutate them from
// worker goroutines without a graph-wide lock.
package graph

import (
	"sort"
	"sync/atomic"

	"github.com/buildforge/engine/digest"
)

// Label is a canonical target label of the form "//relative/dir:name".
type Label string

// TargetType enumerates the kinds of buildable unit (spec §3).
type TargetType int

const (
	Executable TargetType = iota
	Library
	Test
	Custom
)

func (t TargetType) String() string {
	switch t {
	case Executable:
		return "executable"
	case Library:
		return "library"
	case Test:
		return "test"
	default:
		return "custom"
	}
}

// ActionType enumerates the kinds of minimal cacheable work (spec §3).
type ActionType int

const (
	Compile ActionType = iota
	Link
	Codegen
	ActionTest
	Package
	Transform
	ActionCustom
)

func (a ActionType) String() string {
	switch a {
	case Compile:
		return "compile"
	case Link:
		return "link"
	case Codegen:
		return "codegen"
	case ActionTest:
		return "test"
	case Package:
		return "package"
	case Transform:
		return "transform"
	default:
		return "custom"
	}
}

// Target is a named buildable unit as declared by the (out-of-scope) DSL
// frontend. Targets are immutable once emitted (spec §3).
type Target struct {
	Label         Label
	Type          TargetType
	Sources       []string // resolved paths, globs already expanded by the caller
	Deps          []Label
	Env           map[string]string
	Flags         []string
	Language      string
	OutputPath    string // optional override
	HandlerConfig map[string]string
	HandlerVer    string // version tag of the language handler that will build this target
}

// sourceDigests is supplied by the caller (the analyzer has already computed
// per-file content digests); graph construction never reads files itself.
type sourceDigests = []digest.Digest

// Fingerprint computes the target fingerprint defined in spec §3:
//
//	H(label ‖ Σ source-content-digests ‖ Σ dep-fingerprints ‖ canonical(flags) ‖ canonical(env) ‖ handler-version)
func (t *Target) Fingerprint(srcDigests sourceDigests, depFingerprints []digest.Digest) digest.Digest {
	return digest.HashSequence(
		[]byte(t.Label),
		digest.HashDigests(digest.SortedDigests(srcDigests)...).Bytes(),
		digest.HashDigests(digest.SortedDigests(depFingerprints)...).Bytes(),
		digest.HashStrings(canonicalStrings(t.Flags)...).Bytes(),
		digest.HashStrings(canonicalEnv(t.Env)...).Bytes(),
		[]byte(t.HandlerVer),
	)
}

// canonicalStrings sorts a string slice so fingerprint computation never
// depends on declaration order (spec §4.2 determinism rule).
func canonicalStrings(ss []string) []string {
	out := make([]string, len(ss))
	copy(out, ss)
	sort.Strings(out)
	return out
}

// canonicalEnv serializes a map in sorted-key order as "k=v" pairs.
func canonicalEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}

// ActionID identifies a minimal cacheable unit of work (spec §3).
type ActionID struct {
	Target   Label
	Type     ActionType
	SubID    string // e.g. per-source compile actions within one target
	InputDig digest.Digest
}

func (id ActionID) String() string {
	return string(id.Target) + "#" + id.Type.String() + "#" + id.SubID + "@" + id.InputDig.Hex()[:12]
}

// Action is the minimum cacheable unit of work.
type Action struct {
	ID         ActionID
	Command    []string
	Env        map[string]string
	Inputs     []digest.Digest
	Outputs    []string
	Priority   int
	Timeout    int64 // nanoseconds, 0 = no timeout
	MaxRetries int
}

// Fingerprint computes the action fingerprint analogous to Target's, over
// its inputs, command, and declared metadata (spec §3).
func (a *Action) Fingerprint() digest.Digest {
	return digest.HashSequence(
		[]byte(a.ID.String()),
		digest.HashDigests(digest.SortedDigests(a.Inputs)...).Bytes(),
		digest.HashStrings(a.Command...).Bytes(),
		digest.HashStrings(canonicalEnv(a.Env)...).Bytes(),
		digest.HashStrings(canonicalStrings(a.Outputs)...).Bytes(),
	)
}

// Status is a GraphNode's lifecycle state (spec §3).
type Status int32

const (
	Pending Status = iota
	Ready
	Running
	Succeeded
	Failed
	Cancelled
	SkippedCached
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case SkippedCached:
		return "skipped_cached"
	default:
		return "unknown"
	}
}

// terminalSuccess reports whether a status counts as satisfying a
// dependent's readiness (spec invariant 3: "Succeeded or Skipped(cached)").
func (s Status) terminalSuccess() bool { return s == Succeeded || s == SkippedCached }

// Node wraps a Target with runtime state. Status and PendingDeps are atomic;
// DependencyIDs/DependentIDs are immutable once the graph is built.
type Node struct {
	Target *Target

	DependencyIDs []Label
	DependentIDs  []Label

	status      atomic.Int32
	pendingDeps atomic.Int32
	retryCount  atomic.Int32

	Fingerprint digest.Digest

	// CriticalPath is the scheduler's longest-remaining-path hint (§4.8),
	// filled in by AssignCriticalPathHints after construction.
	CriticalPath int

	lastErr atomic.Value // error
	outputHash atomic.Value // digest.Digest
}

func newNode(t *Target) *Node {
	n := &Node{Target: t}
	n.status.Store(int32(Pending))
	return n
}

func (n *Node) Status() Status { return Status(n.status.Load()) }

func (n *Node) setStatus(s Status) { n.status.Store(int32(s)) }

// CompareAndSwapStatus performs an atomic guarded transition, used by the
// scheduler/executor to enforce the §4.4 "only the scheduler transitions
// Ready->Running; only the executor transitions Running->{Succeeded,Failed}"
// ownership rules.
func (n *Node) CompareAndSwapStatus(from, to Status) bool {
	return n.status.CompareAndSwap(int32(from), int32(to))
}

func (n *Node) RetryCount() int { return int(n.retryCount.Load()) }

func (n *Node) incRetry() int32 { return n.retryCount.Add(1) }

func (n *Node) LastError() error {
	if v := n.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (n *Node) setLastError(err error) { n.lastErr.Store(err) }

func (n *Node) OutputHash() (digest.Digest, bool) {
	if v := n.outputHash.Load(); v != nil {
		return v.(digest.Digest), true
	}
	return digest.Digest{}, false
}

func (n *Node) setOutputHash(d digest.Digest) { n.outputHash.Store(d) }

func (n *Node) PendingDeps() int32 { return n.pendingDeps.Load() }
