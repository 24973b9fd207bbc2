package server

import (
	"context"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/database"
	"github.com/aeolun/allchat/pkg/protocol"
)

// RecentPreviews returns the most recent private message exchanged with each
// correspondent of the user, newest conversation first.
func (r *Router) RecentPreviews(ctx context.Context, user auth.Identity) ([]protocol.PrivateEntry, error) {
	messages, err := r.store.ListPrivateMessagesForUser(ctx, user.ID)
	if err != nil {
		r.metrics.RecordStoreFailure("list_private_user")
		return nil, storeFailure("list private messages for user", err)
	}

	previews := latestPerCorrespondent(messages, user.ID)
	entries := make([]protocol.PrivateEntry, 0, len(previews))
	for _, m := range previews {
		entries = append(entries, privateEntry(m))
	}
	return entries, nil
}

// latestPerCorrespondent keeps the first message per other party from a
// newest-first list. A message to oneself counts as its own correspondent.
func latestPerCorrespondent(messages []*database.PrivateMessage, userID int64) []*database.PrivateMessage {
	seen := make(map[int64]bool)
	var out []*database.PrivateMessage
	for _, m := range messages {
		other := m.SenderID
		if other == userID {
			other = m.RecipientID
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		out = append(out, m)
	}
	return out
}
