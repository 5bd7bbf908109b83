package commonutils

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoID_DistinctPerGoroutine(t *testing.T) {
	mine := GoID()
	require.Greater(t, mine, int64(0))
	require.Equal(t, mine, GoID(), "id must be stable within a goroutine")

	var other int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = GoID()
	}()
	wg.Wait()

	require.Greater(t, other, int64(0))
	require.NotEqual(t, mine, other)
}

func TestCaller_NamesCallingFunction(t *testing.T) {
	c := Caller(0)
	require.True(t, strings.HasPrefix(c, "utils_test.go:"), c)
	require.Contains(t, c, "TestCaller_NamesCallingFunction")
}
