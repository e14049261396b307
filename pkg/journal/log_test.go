package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsSequentialSeq(t *testing.T) {
	log := NewLog()
	ctx := context.Background()

	seq0, err := log.Append(ctx, "EffectIntent", map[string]any{"n": int64(1)})
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq0)

	seq1, err := log.Append(ctx, "EffectReceipt", map[string]any{"n": int64(2)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq1)

	require.Equal(t, uint64(2), log.Len())
}

func TestHashChainLinksPrevHash(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_, _ = log.Append(ctx, "A", map[string]any{})
	_, _ = log.Append(ctx, "B", map[string]any{})

	rec0, err := log.At(0)
	require.NoError(t, err)
	rec1, err := log.At(1)
	require.NoError(t, err)

	require.True(t, rec0.PrevHash.IsZero())
	require.Equal(t, rec0.Hash, rec1.PrevHash)
	require.NotEqual(t, rec0.Hash, rec1.Hash)
}

func TestSameInputsProduceSameChain(t *testing.T) {
	ctx := context.Background()
	build := func() *Log {
		l := NewLog()
		_, _ = l.Append(ctx, "A", map[string]any{"x": int64(1)})
		_, _ = l.Append(ctx, "B", map[string]any{"y": int64(2)})
		return l
	}
	l1, l2 := build(), build()

	h1, _ := l1.Head()
	h2, _ := l2.Head()
	require.Equal(t, h1.Hash, h2.Hash)
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_, _ = log.Append(ctx, "A", map[string]any{})
	_, _ = log.Append(ctx, "B", map[string]any{})

	ok, err := log.VerifyChain(0, log.Len())
	require.NoError(t, err)
	require.True(t, ok)

	log.records[1].Kind = "Tampered"
	_, err = log.VerifyChain(0, log.Len())
	require.Error(t, err)
}

func TestAtOutOfRangeErrors(t *testing.T) {
	log := NewLog()
	_, err := log.At(0)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestScanClampsRange(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = log.Append(ctx, "A", map[string]any{"i": int64(i)})
	}
	recs, err := log.Scan(1, 100)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}
