package relay

import (
	"fmt"
	"testing"

	"github.com/javaarchive/togetherfin/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	store := NewStore(0, 0)

	store.Put("abc", []byte("ciphertext"), "video/mp2t")

	file, err := store.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), file.Data)
	assert.Equal(t, "video/mp2t", file.ContentType)
	assert.Equal(t, domain.ChannelDefault, file.Channel)
}

func TestStoreGetNotFound(t *testing.T) {
	store := NewStore(0, 0)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestStoreChannelByPrefix(t *testing.T) {
	store := NewStore(0, 0)

	store.Put("_root", []byte("listing"), "application/json")
	store.Put("deadbeef", []byte("segment"), "")

	special, err := store.Get("_root")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelSpecial, special.Channel)

	normal, err := store.Get("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelDefault, normal.Channel)
}

func TestStoreDefaultCapacityFIFO(t *testing.T) {
	store := NewStore(DefaultMaxSpecial, DefaultMaxDefault)

	for i := 0; i < 401; i++ {
		store.Put(domain.ContentID(fmt.Sprintf("seg-%03d", i)), []byte{byte(i)}, "")
	}

	assert.Equal(t, 400, store.Len(domain.ChannelDefault))

	// the oldest insertion is gone, everything newer survives
	_, err := store.Get("seg-000")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	for i := 1; i < 401; i++ {
		_, err := store.Get(domain.ContentID(fmt.Sprintf("seg-%03d", i)))
		require.NoError(t, err, "seg-%03d should still be resident", i)
	}
}

func TestStoreSpecialCapacityFIFO(t *testing.T) {
	store := NewStore(DefaultMaxSpecial, DefaultMaxDefault)

	for i := 0; i < 101; i++ {
		store.Put(domain.ContentID(fmt.Sprintf("_manifest-%03d", i)), []byte{byte(i)}, "")
	}

	assert.Equal(t, 100, store.Len(domain.ChannelSpecial))

	_, err := store.Get("_manifest-000")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	_, err = store.Get("_manifest-100")
	assert.NoError(t, err)
}

func TestStoreOverwriteDoesNotDoubleCount(t *testing.T) {
	store := NewStore(0, 0)

	for i := 0; i < 10; i++ {
		store.Put("_root", []byte(fmt.Sprintf("version-%d", i)), "application/json")
	}

	// journal repair drops the orphaned entries left by overwrites
	assert.Equal(t, 1, store.Len(domain.ChannelSpecial))

	file, err := store.Get("_root")
	require.NoError(t, err)
	assert.Equal(t, []byte("version-9"), file.Data)
}

func TestStoreOverwriteSurvivesEviction(t *testing.T) {
	store := NewStore(2, 400)

	// _a is inserted first but refreshed after _b and _c; the refresh must
	// protect it from FIFO eviction even though its original entry is oldest.
	store.Put("_a", []byte("old"), "")
	store.Put("_b", []byte("b"), "")
	store.Put("_a", []byte("new"), "")
	store.Put("_c", []byte("c"), "")

	assert.Equal(t, 2, store.Len(domain.ChannelSpecial))

	file, err := store.Get("_a")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), file.Data)

	_, err = store.Get("_b")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestStoreEvictionCounts(t *testing.T) {
	store := NewStore(1, 1)

	res := store.Put("_m1", []byte("a"), "")
	assert.Equal(t, 0, res.EvictedSpecial)

	res = store.Put("_m2", []byte("b"), "")
	assert.Equal(t, 1, res.EvictedSpecial)
	assert.Equal(t, 0, res.EvictedDefault)

	store.Put("s1", []byte("c"), "")
	res = store.Put("s2", []byte("d"), "")
	assert.Equal(t, 1, res.EvictedDefault)
}

func TestManagerPerRoomIsolation(t *testing.T) {
	manager := NewManager(10, 10)

	manager.ForRoom("room-a").Put("key", []byte("a"), "")
	manager.ForRoom("room-b").Put("key", []byte("b"), "")

	fileA, err := manager.ForRoom("room-a").Get("key")
	require.NoError(t, err)
	fileB, err := manager.ForRoom("room-b").Get("key")
	require.NoError(t, err)

	assert.Equal(t, []byte("a"), fileA.Data)
	assert.Equal(t, []byte("b"), fileB.Data)

	manager.Drop("room-a")
	_, err = manager.ForRoom("room-a").Get("key")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestManagerLookupDoesNotCreate(t *testing.T) {
	manager := NewManager(10, 10)

	_, ok := manager.Lookup("room-a")
	assert.False(t, ok)

	manager.ForRoom("room-a").Put("key", []byte("a"), "")
	store, ok := manager.Lookup("room-a")
	require.True(t, ok)
	_, err := store.Get("key")
	assert.NoError(t, err)

	// the miss above must not have materialized a store either
	manager.Drop("room-a")
	_, ok = manager.Lookup("room-a")
	assert.False(t, ok)
}
