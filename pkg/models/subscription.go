package models

// Subscription is a room the user is subscribed to. DraftMessage holds
// an in-progress composition and is cleared exactly once when a message
// for the room is queued for sending.
type Subscription struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	DraftMessage string `json:"draft_message,omitempty"`

	// LastMessage mirrors the room's most recent message body for
	// list rendering; it participates in the decrypt sweep.
	LastMessage    string `json:"last_message,omitempty"`
	EncryptionType string `json:"t,omitempty"`
	E2E            string `json:"e2e,omitempty"`
	ServerID       string `json:"server,omitempty"`

	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// KeyRecord holds the per-server E2E key material persisted alongside
// the vault cache. PrivateKey is only present once the user supplied or
// recovered the decrypting password.
type KeyRecord struct {
	ServerID   string `json:"server_id"`
	PublicKey  string `json:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	UpdatedAt  int64  `json:"updated_at,omitempty"`
}
