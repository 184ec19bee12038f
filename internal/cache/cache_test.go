// ABOUTME: Tests for the SQLite warm cache
// ABOUTME: Round-trips snapshots and relationships across reopen

package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/friends"
	"github.com/2389/parley/internal/store"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "warm.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func cachedMsg(id string, offset time.Duration) *store.Message {
	return &store.Message{
		ID:             id,
		ConversationID: "1-2",
		SenderID:       "u1",
		Body:           store.Body{Text: "msg " + id},
		CreatedAt:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	in := []*store.Message{
		cachedMsg("m1", 0),
		cachedMsg("m2", time.Second),
	}
	require.NoError(t, c.SaveSnapshot(ctx, "1-2", in))

	out, err := c.LoadSnapshot(ctx, "1-2")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, "msg m2", out[1].Body.Text)
	assert.Equal(t, "1-2", out[0].ConversationID)
}

func TestSnapshot_ReplacesPrevious(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveSnapshot(ctx, "1-2", []*store.Message{cachedMsg("old", 0)}))
	require.NoError(t, c.SaveSnapshot(ctx, "1-2", []*store.Message{cachedMsg("new", 0)}))

	out, err := c.LoadSnapshot(ctx, "1-2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].ID)
}

func TestSnapshot_SkipsPendingEntries(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	pending := &store.Message{TempKey: "tmp-1", ConversationID: "1-2", SenderID: "u1",
		Body: store.Body{Text: "unacked"}, CreatedAt: time.Now()}
	require.NoError(t, c.SaveSnapshot(ctx, "1-2", []*store.Message{pending, cachedMsg("m1", 0)}))

	out, err := c.LoadSnapshot(ctx, "1-2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].ID)
}

func TestSnapshot_CapsSize(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	var in []*store.Message
	for i := 0; i < snapshotLimit+50; i++ {
		in = append(in, cachedMsg(fmt.Sprintf("m%04d", i), time.Duration(i)*time.Second))
	}
	require.NoError(t, c.SaveSnapshot(ctx, "1-2", in))

	out, err := c.LoadSnapshot(ctx, "1-2")
	require.NoError(t, err)
	assert.Len(t, out, snapshotLimit)
	// The oldest messages are the ones dropped.
	assert.Equal(t, "m0050", out[0].ID)
}

func TestSnapshot_AttachmentRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	m := cachedMsg("m1", 0)
	m.Body = store.Body{Attachment: &store.Attachment{Type: store.AttachmentTypeImage, Data: "abc"}}
	require.NoError(t, c.SaveSnapshot(ctx, "1-2", []*store.Message{m}))

	out, err := c.LoadSnapshot(ctx, "1-2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Body.Attachment)
	assert.Equal(t, "abc", out[0].Body.Attachment.Data)
}

func TestLoadSnapshot_ColdStart(t *testing.T) {
	c := openTestCache(t)

	out, err := c.LoadSnapshot(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRelationshipRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveRelationship(ctx, "peer-1", friends.StatusPendingIncoming, "peer-1"))

	status, initiator, ok, err := c.LoadRelationship(ctx, "peer-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, friends.StatusPendingIncoming, status)
	assert.Equal(t, "peer-1", initiator)

	// Upsert, not write-once: a later status replaces the old one.
	require.NoError(t, c.SaveRelationship(ctx, "peer-1", friends.StatusAccepted, "peer-1"))
	status, _, ok, err = c.LoadRelationship(ctx, "peer-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, friends.StatusAccepted, status)
}

func TestLoadRelationship_Unknown(t *testing.T) {
	c := openTestCache(t)

	_, _, ok, err := c.LoadRelationship(context.Background(), "stranger")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warm.db")
	ctx := context.Background()

	c, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, c.SaveSnapshot(ctx, "1-2", []*store.Message{cachedMsg("m1", 0)}))
	require.NoError(t, c.Close())

	c2, err := Open(path, nil)
	require.NoError(t, err)
	defer c2.Close()

	out, err := c2.LoadSnapshot(ctx, "1-2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].ID)
}
