package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("this is a test")

func TestNotFound(t *testing.T) {
	require.False(t, IsNotFound(errTest))
	e := NotFound(errTest)
	require.True(t, IsNotFound(e))
	require.Equal(t, errTest, e.(causal).Cause())
	require.True(t, errors.Is(e, errTest))

	wrapped := fmt.Errorf("foo: %w", e)
	require.True(t, IsNotFound(wrapped))
}

func TestCategoryRoundTrip(t *testing.T) {
	err := AsIO(errTest)
	require.Equal(t, IO, CategoryOf(err))
	require.True(t, Retryable(err))

	err = AsGraph(errTest)
	require.Equal(t, Graph, CategoryOf(err))
	require.False(t, Retryable(err))
}

func TestWithContextPreservesChain(t *testing.T) {
	err := AsCache(errTest)
	err = WithContext(err, "lookup(fingerprint)")
	err = WithContext(err, "is_cached(action)")

	require.Equal(t, "is_cached(action): lookup(fingerprint): this is a test", err.Error())
	require.Equal(t, Cache, CategoryOf(err))
}

func TestCategoryOfUnknown(t *testing.T) {
	require.Equal(t, Unknown, CategoryOf(errTest))
	require.False(t, Retryable(errTest))
}
