package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	identities map[string]Identity
	err        error
	calls      int
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (Identity, bool, error) {
	f.calls++
	if f.err != nil {
		return Identity{}, false, f.err
	}
	id, ok := f.identities[sessionID]
	return id, ok, nil
}

func TestResolve_KnownIdentityIsCached(t *testing.T) {
	store := &fakeStore{identities: map[string]Identity{
		"s1": {SessionID: "s1", CustomerID: "c1", LTVUSD: 500},
	}}
	r := NewResolver(store, nil)

	id := r.Resolve(context.Background(), "s1")
	assert.True(t, id.Known)
	assert.Equal(t, 500.0, id.LTVUSD)

	id2 := r.Resolve(context.Background(), "s1")
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, store.calls, "second lookup should be served from cache")
}

func TestResolve_UnknownSessionFailsOpenToAnonymous(t *testing.T) {
	store := &fakeStore{identities: map[string]Identity{}}
	r := NewResolver(store, nil)

	id := r.Resolve(context.Background(), "ghost")
	assert.False(t, id.Known)
	assert.Zero(t, id.LTVUSD)
}

func TestResolve_StoreErrorFailsOpenToAnonymous(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	r := NewResolver(store, nil)

	id := r.Resolve(context.Background(), "s1")
	assert.False(t, id.Known)
	assert.Equal(t, Anonymous("s1"), id)
}

func TestResolve_NegativeCacheAvoidsRepeatedStoreHits(t *testing.T) {
	store := &fakeStore{identities: map[string]Identity{}}
	r := NewResolver(store, nil)

	r.Resolve(context.Background(), "ghost")
	r.Resolve(context.Background(), "ghost")
	assert.Equal(t, 1, store.calls)
}
