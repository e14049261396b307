package effect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/codec"
)

func TestRecentSetAddContains(t *testing.T) {
	s := NewRecentSet(0)
	h := codec.Sum([]byte("intent-1"))
	require.False(t, s.Contains(h))
	s.Add(h)
	require.True(t, s.Contains(h))
}

func TestRecentSetEvictsOldest(t *testing.T) {
	s := NewRecentSet(2)
	h1 := codec.Sum([]byte("a"))
	h2 := codec.Sum([]byte("b"))
	h3 := codec.Sum([]byte("c"))

	s.Add(h1)
	s.Add(h2)
	s.Add(h3)

	require.False(t, s.Contains(h1))
	require.True(t, s.Contains(h2))
	require.True(t, s.Contains(h3))
	require.Equal(t, 2, s.Len())
}

func TestRecentSetAddIdempotent(t *testing.T) {
	s := NewRecentSet(0)
	h := codec.Sum([]byte("x"))
	s.Add(h)
	s.Add(h)
	require.Equal(t, 1, s.Len())
}
