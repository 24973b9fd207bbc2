package server

import (
	"context"
	"testing"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRecentPreviewsOnePerCorrespondent(t *testing.T) {
	s, db := newTestServer(t)
	alice := addUser(t, s, db, "alice")
	bob := addUser(t, s, db, "bob")
	carol := addUser(t, s, db, "carol")

	// t1: alice -> bob, t2: alice -> carol, t3: bob -> alice
	require.NoError(t, s.router.SendPrivate(s.ctx, alice, "bob", "t1"))
	require.NoError(t, s.router.SendPrivate(s.ctx, alice, "carol", "t2"))
	require.NoError(t, s.router.SendPrivate(s.ctx, bob, "alice", "t3"))

	previews, err := s.router.RecentPreviews(s.ctx, alice)
	require.NoError(t, err)
	require.Len(t, previews, 2)

	assert.Equal(t, "t3", previews[0].Content)
	assert.Equal(t, "bob", previews[0].SenderUsername)
	assert.Equal(t, "t2", previews[1].Content)
	assert.Equal(t, "carol", previews[1].RecipientUsername)

	carolPreviews, err := s.router.RecentPreviews(s.ctx, carol)
	require.NoError(t, err)
	require.Len(t, carolPreviews, 1)
	assert.Equal(t, "t2", carolPreviews[0].Content)
}

func TestRecentPreviewsNoConversations(t *testing.T) {
	s, db := newTestServer(t)
	alice := addUser(t, s, db, "alice")

	previews, err := s.router.RecentPreviews(s.ctx, alice)
	require.NoError(t, err)
	assert.NotNil(t, previews)
	assert.Empty(t, previews)
}

func TestLatestPerCorrespondentSelfMessage(t *testing.T) {
	messages := []*database.PrivateMessage{
		{ID: 3, SenderID: 1, RecipientID: 1, CreatedAt: 30},
		{ID: 2, SenderID: 2, RecipientID: 1, CreatedAt: 20},
		{ID: 1, SenderID: 1, RecipientID: 1, CreatedAt: 10},
	}

	got := latestPerCorrespondent(messages, 1)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
}

// Property: previews hold exactly one message per correspondent, and it is
// the newest message exchanged with them.
func TestRecentPreviewsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db := newMockDB()
		names := []string{"alice", "bob", "carol", "dave"}
		ids := map[string]int64{}
		for _, name := range names {
			u, err := db.CreateUser(context.Background(), name, "hash")
			if err != nil {
				rt.Fatalf("create user: %v", err)
			}
			ids[name] = u.ID
		}

		presence := NewPresence()
		directory := NewDirectory()
		for name, id := range ids {
			directory.Register(name, id)
		}
		router := NewRouter(db, presence, directory, newTestMetrics())

		newest := map[string]string{} // correspondent -> content of newest message with alice
		n := rapid.IntRange(0, 40).Draw(rt, "messages")
		for i := 0; i < n; i++ {
			from := rapid.SampledFrom(names).Draw(rt, "from")
			to := rapid.SampledFrom(names).Draw(rt, "to")
			content := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "content")

			sender := auth.Identity{ID: ids[from], Username: from}
			if err := router.SendPrivate(context.Background(), sender, to, content); err != nil {
				rt.Fatalf("send: %v", err)
			}

			switch {
			case from == "alice":
				newest[to] = content
			case to == "alice":
				newest[from] = content
			}
		}

		previews, err := router.RecentPreviews(context.Background(), auth.Identity{ID: ids["alice"], Username: "alice"})
		if err != nil {
			rt.Fatalf("previews: %v", err)
		}
		if len(previews) != len(newest) {
			rt.Fatalf("got %d previews, want %d", len(previews), len(newest))
		}

		for i, p := range previews {
			other := p.SenderUsername
			if other == "alice" {
				other = p.RecipientUsername
			}
			if newest[other] != p.Content {
				rt.Fatalf("preview for %s is %q, want %q", other, p.Content, newest[other])
			}
			if i > 0 && p.Timestamp.After(previews[i-1].Timestamp) {
				rt.Fatalf("previews not newest first")
			}
		}
	})
}
