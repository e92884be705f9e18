package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStoreGetSetRoundTrip(t *testing.T) {
	s := NewLocalStore(8)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestLocalStoreExpiresEntries(t *testing.T) {
	s := NewLocalStore(8)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreDelete(t *testing.T) {
	s := NewLocalStore(8)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

type jsonVal struct {
	Name string
	N    int
}

func TestGetJSONSetJSONRoundTrip(t *testing.T) {
	s := NewLocalStore(8)
	ctx := context.Background()

	in := jsonVal{Name: "a", N: 3}
	require.NoError(t, SetJSON(ctx, s, "k", in, time.Minute))

	var out jsonVal
	require.NoError(t, GetJSON(ctx, s, "k", &out))
	require.Equal(t, in, out)
}
