package clustercache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a flat in-memory entryStore used to test CacheMap and lruList
// in isolation, without a real Device/DiskStore behind them.
type fakeStore struct {
	entries []Entry
}

func (s *fakeStore) entryAt(ref entryRef) *Entry {
	return &s.entries[ref.slot]
}

func (s *fakeStore) push(key ClusterCacheKey, mode ClusterCacheMode) entryRef {
	s.entries = append(s.entries, Entry{Key: key, Mode: mode, lruPrev: nilRef, lruNext: nilRef, chainNext: nilRef})
	return entryRef{device: 0, slot: int32(len(s.entries) - 1)}
}

func Test_CacheMap_Insert_Find_Remove(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newCacheMap(2)

	k1 := LocationKey(1, 100)
	k2 := LocationKey(1, 200)

	r1 := store.push(k1, ModeLocationBased)
	r2 := store.push(k2, ModeLocationBased)

	m.insert(store, r1)
	m.insert(store, r2)

	require.Equal(t, uint64(2), m.Entries())

	found := m.find(store, k1)
	assert.Equal(t, r1, found)

	removed := m.remove(store, k1)
	assert.True(t, removed)
	assert.True(t, m.find(store, k1).isNil())
	assert.Equal(t, uint64(1), m.Entries())

	// k2 must still be reachable after k1 is removed. With 4 buckets the two
	// keys hash to different buckets, so this does not exercise the
	// prev-pointer fixup within one chain.
	assert.Equal(t, r2, m.find(store, k2))
}

func Test_CacheMap_RemoveRef_Matches_Remove_By_Key(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newCacheMap(1)

	key := LocationKey(7, 9)
	ref := store.push(key, ModeLocationBased)
	m.insert(store, ref)

	ok := m.removeRef(store, ref)

	require.True(t, ok)
	assert.True(t, m.find(store, key).isNil())
	assert.Equal(t, uint64(0), m.Entries())
}

func Test_CacheMap_Resize_Preserves_All_Entries(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newCacheMap(1)

	var refs []entryRef

	for i := range uint64(20) {
		key := LocationKey(1, i)
		ref := store.push(key, ModeLocationBased)
		m.insert(store, ref)
		refs = append(refs, ref)
	}

	m.resize(store, 4)

	require.Equal(t, uint64(20), m.Entries())

	for i := range uint64(20) {
		key := LocationKey(1, i)
		found := m.find(store, key)
		assert.False(t, found.isNil())
	}
}

func Test_BestSize_Floors_Log2_Of_Ratio(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name             string
		expectedChainLen uint64
		capacity         uint64
		want             uint8
	}{
		{"ZeroCapacity", 4, 0, 0},
		{"ZeroExpected", 0, 1000, 0},
		{"ExactPowerOfTwo", 4, 64, 4},
		{"BelowExpected", 4, 2, 0},
		{"RoundsDown", 4, 100, 4}, // 100/4=25, log2(25) floored = 4
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := bestSize(testCase.expectedChainLen, testCase.capacity)
			assert.Equal(t, testCase.want, got)
		})
	}
}

func Test_NewBucketSpine_Is_All_Nil(t *testing.T) {
	t.Parallel()

	spine := newBucketSpine(8)

	for _, ref := range spine {
		assert.True(t, ref.isNil(), "freshly allocated bucket spine must not contain the zero-value (0,0) ref")
	}
}
