package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildforge/engine/digest"
)

func constDigests(_ *Target) ([]digest.Digest, error) {
	return []digest.Digest{digest.FromBytes([]byte("src"))}, nil
}

func TestBuildSimpleChain(t *testing.T) {
	a := &Target{Label: "//a:lib", Sources: []string{"a.c"}}
	b := &Target{Label: "//b:app", Sources: []string{"b.c"}, Deps: []Label{"//a:lib"}}

	d, err := Build([]*Target{a, b}, constDigests)
	require.NoError(t, err)

	an := d.Get("//a:lib")
	bn := d.Get("//b:app")
	require.Equal(t, []Label{"//b:app"}, an.DependentIDs)
	require.Equal(t, []Label{"//a:lib"}, bn.DependencyIDs)
	require.False(t, an.Fingerprint.Zero())
}

func TestBuildDetectsCycle(t *testing.T) {
	x := &Target{Label: "//x", Deps: []Label{"//y"}}
	y := &Target{Label: "//y", Deps: []Label{"//x"}}

	_, err := Build([]*Target{x, y}, constDigests)
	require.Error(t, err)
}

func TestBuildRejectsUnresolvedDep(t *testing.T) {
	a := &Target{Label: "//a", Deps: []Label{"//missing"}}
	_, err := Build([]*Target{a}, constDigests)
	require.Error(t, err)
}

func TestBuildRejectsDuplicateLabel(t *testing.T) {
	a := &Target{Label: "//a"}
	a2 := &Target{Label: "//a"}
	_, err := Build([]*Target{a, a2}, constDigests)
	require.Error(t, err)
}

func TestBuildRejectsSelfEdge(t *testing.T) {
	a := &Target{Label: "//a", Deps: []Label{"//a"}}
	_, err := Build([]*Target{a}, constDigests)
	require.Error(t, err)
}

func TestReadinessPropagation(t *testing.T) {
	a := &Target{Label: "//a"}
	b := &Target{Label: "//b", Deps: []Label{"//a"}}
	d, err := Build([]*Target{a, b}, constDigests)
	require.NoError(t, err)

	ready := d.InitialReady()
	require.Len(t, ready, 1)
	require.Equal(t, Label("//a"), ready[0].Target.Label)

	an := d.Get("//a")
	require.True(t, an.CompareAndSwapStatus(Ready, Running))
	require.True(t, an.CompareAndSwapStatus(Running, Succeeded))

	readied := d.CompleteDependency("//a")
	require.Len(t, readied, 1)
	require.Equal(t, Label("//b"), readied[0].Target.Label)
	require.Equal(t, Ready, d.Get("//b").Status())
}

func TestNodeNeverRunningWhileDepNotSucceeded(t *testing.T) {
	a := &Target{Label: "//a"}
	b := &Target{Label: "//b", Deps: []Label{"//a"}}
	d, err := Build([]*Target{a, b}, constDigests)
	require.NoError(t, err)

	bn := d.Get("//b")
	require.False(t, bn.CompareAndSwapStatus(Pending, Running))
	require.Equal(t, Pending, bn.Status())
}

func TestFailDependentsSkipsDownstream(t *testing.T) {
	a := &Target{Label: "//a"}
	b := &Target{Label: "//b", Deps: []Label{"//a"}}
	c := &Target{Label: "//c", Deps: []Label{"//b"}}
	unrelated := &Target{Label: "//u"}
	d, err := Build([]*Target{a, b, c, unrelated}, constDigests)
	require.NoError(t, err)

	skipped := d.FailDependents("//a")
	labels := map[Label]bool{}
	for _, n := range skipped {
		labels[n.Target.Label] = true
	}
	require.True(t, labels["//b"])
	require.True(t, labels["//c"])
	require.False(t, labels["//u"])
	require.Equal(t, Pending, d.Get("//u").Status())
}

func TestFingerprintStableAcrossRebuildWithoutSourceChange(t *testing.T) {
	a := &Target{Label: "//a:lib", Sources: []string{"a.c"}, Flags: []string{"-O2"}}
	d1, err := Build([]*Target{a}, constDigests)
	require.NoError(t, err)

	// rename target (different label) without touching sources/flags/deps
	renamed := &Target{Label: "//a:renamed", Sources: []string{"a.c"}, Flags: []string{"-O2"}}
	d2, err := Build([]*Target{renamed}, constDigests)
	require.NoError(t, err)

	// fingerprints differ only because the label itself is part of the hash;
	// with the same label, the fingerprint must be identical.
	d3, err := Build([]*Target{a}, constDigests)
	require.NoError(t, err)
	require.True(t, d1.Get("//a:lib").Fingerprint.Equal(d3.Get("//a:lib").Fingerprint))
	require.False(t, d1.Get("//a:lib").Fingerprint.Equal(d2.Get("//a:renamed").Fingerprint))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	a := &Target{Label: "//a"}
	b := &Target{Label: "//b", Deps: []Label{"//a"}}
	d, err := Build([]*Target{a, b}, constDigests)
	require.NoError(t, err)

	an := d.Get("//a")
	an.CompareAndSwapStatus(Pending, Ready)
	an.CompareAndSwapStatus(Ready, Running)
	an.CompareAndSwapStatus(Running, Succeeded)

	var buf bytes.Buffer
	require.NoError(t, d.Serialize(&buf))

	d2, err := Build([]*Target{a, b}, constDigests)
	require.NoError(t, err)
	require.NoError(t, d2.Deserialize(&buf))
	require.Equal(t, Succeeded, d2.Get("//a").Status())
}

func TestDeserializeRejectsUnknownSchema(t *testing.T) {
	d, err := Build([]*Target{{Label: "//a"}}, constDigests)
	require.NoError(t, err)
	require.ErrorIs(t, d.Deserialize(bytes.NewReader([]byte("XXXX\x99"))), ErrUnknownSchema)
}

func TestCriticalPathHints(t *testing.T) {
	a := &Target{Label: "//a"}
	b := &Target{Label: "//b", Deps: []Label{"//a"}}
	c := &Target{Label: "//c", Deps: []Label{"//b"}}
	d, err := Build([]*Target{a, b, c}, constDigests)
	require.NoError(t, err)

	d.AssignCriticalPathHints()
	require.Equal(t, 2, d.Get("//a").CriticalPath)
	require.Equal(t, 1, d.Get("//b").CriticalPath)
	require.Equal(t, 0, d.Get("//c").CriticalPath)
}

func TestDefaultLowererProducesCompileAndLink(t *testing.T) {
	a := &Target{Label: "//a:lib", Type: Library, Sources: []string{"a.c", "b.c"}}
	d, err := Build([]*Target{a}, constDigests)
	require.NoError(t, err)

	srcs, _ := constDigests(a)
	srcs = append(srcs, srcs[0])
	actions, err := DefaultLowerer{}.Lower(d.Get("//a:lib"), srcs)
	require.NoError(t, err)
	require.Len(t, actions, 3) // 2 compiles + 1 link
	require.Equal(t, Link, actions[2].ID.Type)
}
