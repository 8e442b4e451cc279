package models

// MessageStatus is the local delivery status of a message.
type MessageStatus string

const (
	// StatusTemp marks a message persisted locally but not yet
	// acknowledged by the server.
	StatusTemp MessageStatus = "temp"
	// StatusSent marks a message acknowledged by the server.
	StatusSent MessageStatus = "sent"
	// StatusError marks a message whose delivery failed; it may be
	// resent, which moves it back to StatusTemp.
	StatusError MessageStatus = "error"
)

// Encryption markers carried on messages, thread rows and subscriptions.
const (
	// E2EType is the message type value set when the wire body is ciphertext.
	E2EType = "e2e"
	// E2EStatusDone means the locally stored body is plaintext.
	E2EStatusDone = "done"
	// E2EStatusPending means the stored body is still ciphertext and
	// awaits the decrypt sweep.
	E2EStatusPending = "pending"
)

// User identifies a message author.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is the top-level message row. ID is client-generated and
// immutable; it is the addressing slot for all later status updates.
type Message struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"rid"`
	Body           string `json:"msg"`

	// Thread linkage, set only on thread replies.
	ThreadID string `json:"tmid,omitempty"`
	// ThreadRootBody snapshots the parent body on replies.
	ThreadRootBody string `json:"tmsg,omitempty"`

	// Thread bookkeeping, set only on thread-root messages.
	ThreadLastMessageTime int64 `json:"tlm,omitempty"`
	ThreadReplyCount      int   `json:"tcount,omitempty"`

	Timestamp int64         `json:"ts"`
	UpdatedAt int64         `json:"updated_at"`
	Status    MessageStatus `json:"status"`
	Author    User          `json:"u"`

	// EncryptionType is E2EType when the message participates in E2E;
	// E2E tracks whether the stored body has been decrypted.
	EncryptionType string `json:"t,omitempty"`
	E2E            string `json:"e2e,omitempty"`
	ServerID       string `json:"server,omitempty"`

	// Server-derived references, populated from the send acknowledgement.
	Mentions []string `json:"mentions,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// ThreadMessage is the per-thread projection of a reply, keyed by the
// same message id and kept in lockstep with its Message row for
// status/mentions/channels.
type ThreadMessage struct {
	ID             string `json:"id"`
	ThreadID       string `json:"rid"`
	SubscriptionID string `json:"sid"`
	Body           string `json:"msg"`

	Timestamp int64         `json:"ts"`
	UpdatedAt int64         `json:"updated_at"`
	Status    MessageStatus `json:"status"`
	Author    User          `json:"u"`

	EncryptionType string `json:"t,omitempty"`
	E2E            string `json:"e2e,omitempty"`

	Mentions []string `json:"mentions,omitempty"`
	Channels []string `json:"channels,omitempty"`
}
