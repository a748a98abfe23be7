package clustercache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LruList_PushFront_Orders_Most_Recent_First(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	list := lruList{head: nilRef, tail: nilRef}

	a := store.push(LocationKey(1, 1), ModeLocationBased)
	b := store.push(LocationKey(1, 2), ModeLocationBased)
	c := store.push(LocationKey(1, 3), ModeLocationBased)

	list.pushFront(store, a)
	list.pushFront(store, b)
	list.pushFront(store, c)

	require.Equal(t, uint64(3), list.Len())
	assert.Equal(t, c, list.head)
	assert.Equal(t, a, list.tail)
}

func Test_LruList_PopBack_Evicts_Least_Recently_Used(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	list := lruList{head: nilRef, tail: nilRef}

	a := store.push(LocationKey(1, 1), ModeLocationBased)
	b := store.push(LocationKey(1, 2), ModeLocationBased)

	list.pushFront(store, a)
	list.pushFront(store, b)

	victim := list.popBack(store)

	assert.Equal(t, a, victim)
	assert.Equal(t, uint64(1), list.Len())
	assert.Equal(t, b, list.head)
	assert.Equal(t, b, list.tail)
}

func Test_LruList_MoveToFront_Reheads_Without_Duplicating(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	list := lruList{head: nilRef, tail: nilRef}

	a := store.push(LocationKey(1, 1), ModeLocationBased)
	b := store.push(LocationKey(1, 2), ModeLocationBased)
	c := store.push(LocationKey(1, 3), ModeLocationBased)

	list.pushBack(store, a)
	list.pushBack(store, b)
	list.pushBack(store, c)

	list.moveToFront(store, b)

	require.Equal(t, uint64(3), list.Len())
	assert.Equal(t, b, list.head)
	assert.Equal(t, c, list.tail)
}

func Test_LruList_Empty_List_PopBack_Returns_NilRef(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	list := lruList{head: nilRef, tail: nilRef}

	victim := list.popBack(store)

	assert.True(t, victim.isNil())
	assert.True(t, list.Empty())
}
