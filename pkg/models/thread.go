package models

// Thread is the denormalized header row for a parent message that has
// received at least one reply. Its ID equals the parent message id and
// it is created at most once per parent.
type Thread struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"rid"`

	// Snapshot of the parent message at thread-creation time.
	Body      string `json:"msg"`
	Author    User   `json:"u"`
	Timestamp int64  `json:"ts"`

	UpdatedAt int64         `json:"updated_at"`
	Status    MessageStatus `json:"status"`

	LastMessageTime int64 `json:"tlm,omitempty"`
	ReplyCount      int   `json:"tcount,omitempty"`

	EncryptionType string `json:"t,omitempty"`
	E2E            string `json:"e2e,omitempty"`
}
