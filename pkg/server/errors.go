package server

import (
	"errors"
	"fmt"

	"github.com/aeolun/allchat/pkg/protocol"
)

var (
	// ErrUnknownRecipient means the target username is neither online nor registered.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrStoreFailure wraps any error returned by the message store.
	ErrStoreFailure = errors.New("message store failure")
	// ErrNotAuthenticated is returned for intents on a session that is no longer authenticated.
	ErrNotAuthenticated = errors.New("session not authenticated")
)

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreFailure, op, err)
}

// errorCode maps a request failure to the code sent in the error event
func errorCode(err error) uint16 {
	switch {
	case errors.Is(err, ErrUnknownRecipient):
		return protocol.ErrCodeUnknownRecipient
	case errors.Is(err, ErrStoreFailure):
		return protocol.ErrCodeDatabaseError
	case errors.Is(err, ErrNotAuthenticated):
		return protocol.ErrCodeAuthRequired
	default:
		return protocol.ErrorCodeFor(err)
	}
}

// errorText is the client-facing message for a failure. Store details stay in the log.
func errorText(err error) string {
	switch {
	case errors.Is(err, ErrStoreFailure):
		return "Failed to save or load messages, please retry"
	default:
		return err.Error()
	}
}
