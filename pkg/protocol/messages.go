package protocol

import "time"

// Event names (Client → Server)
const (
	EventSendBroadcast    = "allchat:message"
	EventRequestBroadcast = "allchat:history"
	EventSendPrivate      = "private:message"
	EventRequestPrivate   = "private:history"
	EventRequestPreviews  = "private:previews"
	EventLogout           = "logout"
)

// Event names (Server → Client)
const (
	EventAuthenticated    = "authenticated"
	EventUsersList        = "users:list"
	EventUsersOnline      = "users:online"
	EventBroadcastMessage = "allchat:message"
	EventBroadcastHistory = "allchat:history"
	EventPrivateMessage   = "private:message"
	EventPrivateHistory   = "private:history"
	EventPrivatePreviews  = "private:previews"
	EventAuthError        = "auth:error"
	EventSessionReplaced  = "session:replaced"
	EventError            = "error"
)

// Websocket close codes in the application range (4000-4999)
const (
	CloseAuthFailed      = 4001
	CloseSessionReplaced = 4002
)

// Error codes
const (
	// Protocol errors (1xxx)
	ErrCodeInvalidFormat = 1000
	ErrCodeUnknownEvent  = 1001

	// Authentication errors (2xxx)
	ErrCodeAuthRequired = 2000
	ErrCodeAuthFailed   = 2001

	// Resource errors (4xxx)
	ErrCodeNotFound         = 4000
	ErrCodeUnknownRecipient = 4004

	// Validation errors (6xxx)
	ErrCodeInvalidInput   = 6000
	ErrCodeMessageTooLong = 6001
	ErrCodeEmptyMessage   = 6002

	// Server errors (9xxx)
	ErrCodeInternalError = 9000
	ErrCodeDatabaseError = 9001
)

// SendBroadcastMessage (allchat:message, inbound)
type SendBroadcastMessage struct {
	Content string `json:"content"`
}

// SendPrivateMessage (private:message, inbound)
type SendPrivateMessage struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// RequestPrivateHistoryMessage (private:history, inbound)
type RequestPrivateHistoryMessage struct {
	WithUser string `json:"withUser"`
}

// AuthenticatedMessage (authenticated)
type AuthenticatedMessage struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// BroadcastMessage (allchat:message, outbound)
type BroadcastMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// PrivateMessage (private:message, outbound)
type PrivateMessage struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// HistoryEntry is one broadcast message in a replay
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PrivateEntry is one private message in a replay or preview list
type PrivateEntry struct {
	ID                int64     `json:"id"`
	SenderUsername    string    `json:"sender_username"`
	RecipientUsername string    `json:"recipient_username"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
}

// PrivateHistoryMessage (private:history, outbound)
type PrivateHistoryMessage struct {
	WithUser string         `json:"withUser"`
	Messages []PrivateEntry `json:"messages"`
}

// ErrorMessage (error) reports a failed request to the requester only
type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Code    uint16 `json:"code"`
	Message string `json:"message"`
}

// AuthErrorMessage (auth:error)
type AuthErrorMessage struct {
	Message string `json:"message"`
}

// SessionReplacedMessage (session:replaced)
type SessionReplacedMessage struct {
	Message string `json:"message"`
}
