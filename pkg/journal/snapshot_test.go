package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aoscore/aos/pkg/store"
)

func TestSnapshotSaveAndLatest(t *testing.T) {
	cas := store.NewMemCAS()
	snaps := NewSnapshotStore(cas)
	ctx := context.Background()

	_, err := snaps.Save(ctx, 10, map[string]any{"counter": int64(1)})
	require.NoError(t, err)
	_, err = snaps.Save(ctx, 20, map[string]any{"counter": int64(2)})
	require.NoError(t, err)

	snap, ok, err := snaps.Latest(ctx, 15)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), snap.AtSeq)

	snap, ok, err = snaps.Latest(ctx, 25)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), snap.AtSeq)
}

func TestSnapshotLatestNoneBefore(t *testing.T) {
	cas := store.NewMemCAS()
	snaps := NewSnapshotStore(cas)
	ctx := context.Background()
	_, err := snaps.Save(ctx, 50, map[string]any{})
	require.NoError(t, err)

	_, ok, err := snaps.Latest(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshotSeqsSorted(t *testing.T) {
	cas := store.NewMemCAS()
	snaps := NewSnapshotStore(cas)
	ctx := context.Background()
	_, _ = snaps.Save(ctx, 30, map[string]any{})
	_, _ = snaps.Save(ctx, 10, map[string]any{})
	_, _ = snaps.Save(ctx, 20, map[string]any{})

	require.Equal(t, []uint64{10, 20, 30}, snaps.Seqs())
}
