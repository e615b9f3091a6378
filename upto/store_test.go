package upto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreGetOrCreateReturnsExistingSession(t *testing.T) {
	store := NewStore()
	created := 0
	build := func() *Session {
		created++
		return NewSession("s1", big.NewInt(100), 0, 0, zeroPayload(), zeroRequirements())
	}

	a := store.GetOrCreate("s1", build)
	b := store.GetOrCreate("s1", build)

	assert.Same(t, a, b)
	assert.Equal(t, 1, created)
}

func TestStoreDeleteRemovesSession(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("s1", func() *Session {
		return NewSession("s1", big.NewInt(100), 0, 0, zeroPayload(), zeroRequirements())
	})
	store.Delete("s1")

	_, ok := store.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestStoreEntriesSnapshotsAllSessions(t *testing.T) {
	store := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		id := id
		store.GetOrCreate(id, func() *Session {
			return NewSession(id, big.NewInt(100), 0, 0, zeroPayload(), zeroRequirements())
		})
	}
	assert.Len(t, store.Entries(), 3)
}
