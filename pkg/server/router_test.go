package server

import (
	"sync"
	"testing"
	"time"

	"github.com/aeolun/allchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendBroadcastReachesEveryoneIncludingSender(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	drain(t, alice)
	drain(t, bob)

	err := s.router.SendBroadcast(s.ctx, identityOf(alice), "hello all")
	require.NoError(t, err)

	for _, sess := range []*Session{alice, bob} {
		msgs := eventsNamed(drain(t, sess), protocol.EventBroadcastMessage)
		require.Len(t, msgs, 1, sess.Username)
		got := decodeAs[protocol.BroadcastMessage](t, msgs[0])
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "hello all", got.Content)
	}
	assert.Equal(t, 1, db.broadcastCount())
}

func TestSendBroadcastStoreFailureDeliversNothing(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	drain(t, alice)
	drain(t, bob)

	db.setFailures(true, false)
	err := s.router.SendBroadcast(s.ctx, identityOf(alice), "lost")
	assert.ErrorIs(t, err, ErrStoreFailure)

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
}

func TestSendPrivateDeliversToRecipientOnly(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	carol := connectUser(t, s, addUser(t, s, db, "carol"))
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	require.NoError(t, s.router.SendPrivate(s.ctx, identityOf(alice), "bob", "psst"))

	msgs := eventsNamed(drain(t, bob), protocol.EventPrivateMessage)
	require.Len(t, msgs, 1)
	got := decodeAs[protocol.PrivateMessage](t, msgs[0])
	assert.Equal(t, protocol.PrivateMessage{Sender: "alice", Recipient: "bob", Content: "psst"}, got)

	assert.Empty(t, drain(t, alice), "no echo to sender")
	assert.Empty(t, drain(t, carol))
}

func TestSendPrivateUnknownRecipient(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	drain(t, alice)
	drain(t, bob)

	err := s.router.SendPrivate(s.ctx, identityOf(alice), "mallory", "hi")
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	assert.Equal(t, 0, db.privateCount(), "nothing stored")
	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
}

func TestSendPrivateToOfflineRecipientIsStored(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	carolID := addUser(t, s, db, "carol")
	drain(t, alice)

	require.NoError(t, s.router.SendPrivate(s.ctx, identityOf(alice), "carol", "see you later"))
	assert.Equal(t, 1, db.privateCount())
	assert.Empty(t, drain(t, alice))

	// Carol connects and asks for the conversation
	carol := connectUser(t, s, carolID)
	history, err := s.router.PrivateHistory(s.ctx, identityOf(carol), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", history.WithUser)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "alice", history.Messages[0].SenderUsername)
	assert.Equal(t, "carol", history.Messages[0].RecipientUsername)
	assert.Equal(t, "see you later", history.Messages[0].Content)
}

func TestSendPrivateStoreFailure(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	drain(t, alice)
	drain(t, bob)

	db.setFailures(true, false)
	err := s.router.SendPrivate(s.ctx, identityOf(alice), "bob", "hi")
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Empty(t, drain(t, bob))
}

func TestSendPrivateSurvivesSenderDisconnect(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	drain(t, bob)

	started, release := db.blockPrivateSaves()

	var wg sync.WaitGroup
	var sendErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendErr = s.router.SendPrivate(s.ctx, identityOf(alice), "bob", "last words")
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("store write never started")
	}

	s.disconnect(alice, closeGoingAway, "gone")
	release()
	wg.Wait()

	require.NoError(t, sendErr)
	assert.Equal(t, 1, db.privateCount())

	msgs := eventsNamed(drain(t, bob), protocol.EventPrivateMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "last words", decodeAs[protocol.PrivateMessage](t, msgs[0]).Content)

	_, online := s.presence.Lookup("alice")
	assert.False(t, online)
}

func TestSendPrivateRecipientDisconnectsMidFlight(t *testing.T) {
	s, db := newTestServer(t)
	alice := connectUser(t, s, addUser(t, s, db, "alice"))
	bob := connectUser(t, s, addUser(t, s, db, "bob"))
	drain(t, bob)

	started, release := db.blockPrivateSaves()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.router.SendPrivate(s.ctx, identityOf(alice), "bob", "anyone there?")
	}()
	<-started

	s.disconnect(bob, closeGoingAway, "gone")
	release()

	require.NoError(t, <-errCh)
	assert.Equal(t, 1, db.privateCount(), "stored even though delivery was skipped")
	assert.Empty(t, eventsNamed(drain(t, bob), protocol.EventPrivateMessage))
}

func TestBroadcastHistoryOrder(t *testing.T) {
	s, db := newTestServer(t)
	alice := addUser(t, s, db, "alice")
	bob := addUser(t, s, db, "bob")

	require.NoError(t, s.router.SendBroadcast(s.ctx, alice, "first"))
	require.NoError(t, s.router.SendBroadcast(s.ctx, bob, "second"))
	require.NoError(t, s.router.SendBroadcast(s.ctx, alice, "third"))

	history, err := s.router.BroadcastHistory(s.ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "bob", history[1].Username)
	assert.Equal(t, "third", history[2].Content)
	assert.True(t, history[0].Timestamp.Before(history[2].Timestamp))
}

func TestBroadcastHistoryEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	history, err := s.router.BroadcastHistory(s.ctx)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestPrivateHistoryIsSymmetric(t *testing.T) {
	s, db := newTestServer(t)
	alice := addUser(t, s, db, "alice")
	bob := addUser(t, s, db, "bob")
	carol := addUser(t, s, db, "carol")

	require.NoError(t, s.router.SendPrivate(s.ctx, alice, "bob", "a->b"))
	require.NoError(t, s.router.SendPrivate(s.ctx, carol, "alice", "c->a"))
	require.NoError(t, s.router.SendPrivate(s.ctx, bob, "alice", "b->a"))

	fromAlice, err := s.router.PrivateHistory(s.ctx, alice, "bob")
	require.NoError(t, err)
	fromBob, err := s.router.PrivateHistory(s.ctx, bob, "alice")
	require.NoError(t, err)

	require.Len(t, fromAlice.Messages, 2)
	assert.Equal(t, fromAlice.Messages, fromBob.Messages)
	assert.Equal(t, "a->b", fromAlice.Messages[0].Content)
	assert.Equal(t, "b->a", fromAlice.Messages[1].Content)
}

func TestPrivateHistoryUnknownUser(t *testing.T) {
	s, db := newTestServer(t)
	alice := addUser(t, s, db, "alice")

	_, err := s.router.PrivateHistory(s.ctx, alice, "ghost")
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}

func TestHistoryStoreFailure(t *testing.T) {
	s, db := newTestServer(t)
	alice := addUser(t, s, db, "alice")
	addUser(t, s, db, "bob")
	db.setFailures(false, true)

	_, err := s.router.BroadcastHistory(s.ctx)
	assert.ErrorIs(t, err, ErrStoreFailure)

	_, err = s.router.PrivateHistory(s.ctx, alice, "bob")
	assert.ErrorIs(t, err, ErrStoreFailure)

	_, err = s.router.RecentPreviews(s.ctx, alice)
	assert.ErrorIs(t, err, ErrStoreFailure)
}
