package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingSinkLatestReturnsMostRecentOfKind(t *testing.T) {
	sink := NewRingSink(3)
	ctx := context.Background()

	_, err := sink.Put(ctx, &PutRequest{SessionID: "s1", Kind: "screenshot", Content: []byte("one")})
	require.NoError(t, err)
	_, err = sink.Put(ctx, &PutRequest{SessionID: "s1", Kind: "console", Content: []byte("log line")})
	require.NoError(t, err)
	_, err = sink.Put(ctx, &PutRequest{SessionID: "s1", Kind: "screenshot", Content: []byte("two")})
	require.NoError(t, err)

	content, res, ok := sink.Latest("s1", "screenshot")
	require.True(t, ok)
	require.Equal(t, []byte("two"), content)
	require.Equal(t, "screenshot", res.Kind)
}

func TestRingSinkEvictsOldestPastCapacity(t *testing.T) {
	sink := NewRingSink(2)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c"} {
		_, err := sink.Put(ctx, &PutRequest{SessionID: "s1", Kind: "screenshot", Content: []byte(s)})
		require.NoError(t, err)
	}

	entries := sink.bySession["s1"]
	require.Len(t, entries, 2)
	require.Equal(t, []byte("b"), entries[0].content)
	require.Equal(t, []byte("c"), entries[1].content)
}

func TestRingSinkLatestUnknownSessionNotFound(t *testing.T) {
	sink := NewRingSink(2)
	_, _, ok := sink.Latest("missing", "screenshot")
	require.False(t, ok)
}

func TestRingSinkDropClearsSession(t *testing.T) {
	sink := NewRingSink(2)
	ctx := context.Background()
	_, err := sink.Put(ctx, &PutRequest{SessionID: "s1", Kind: "console", Content: []byte("x")})
	require.NoError(t, err)

	sink.Drop("s1")

	_, _, ok := sink.Latest("s1", "console")
	require.False(t, ok)
}
