package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopBackendRoundTrip(t *testing.T) {
	spec := Spec{
		Workdir: "/tmp/does-not-need-to-exist",
		Env:     map[string]string{"FOO": "bar"},
		Inputs:  map[string]string{"in.txt": "/src/in.txt"},
		Outputs: []string{"out.txt"},
	}

	sb, err := NoopBackend{}.Enter(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, spec.Workdir, sb.Root())
	assert.Contains(t, sb.Env(), "FOO=bar")
	assert.NoError(t, sb.Release())
}

func TestNoopBackendReleaseIsIdempotent(t *testing.T) {
	sb, err := NoopBackend{}.Enter(context.Background(), Spec{Workdir: "/tmp/x"})
	require.NoError(t, err)

	require.NoError(t, sb.Release())
	require.NoError(t, sb.Release())
}

func TestEnvSliceFormatsKeyValuePairs(t *testing.T) {
	got := envSlice(map[string]string{"A": "1", "B": "2"})
	assert.ElementsMatch(t, []string{"A=1", "B=2"}, got)
}

func TestDefaultReturnsNonNilBackend(t *testing.T) {
	assert.NotNil(t, Default())
}
