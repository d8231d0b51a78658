// Package models defines the data types persisted by the chatkeeper stores.
package models

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. Timestamps are Unix milliseconds, the
// convention shared with the mirror file format.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ChatRecord is one conversation: cleartext metadata plus the message list.
//
// When encryption is enabled the message list is stored as a single
// envelope string in EncryptedMessages and Messages is empty; metadata
// stays cleartext so the chat list can be rendered and sorted without
// decrypting anything.
//
// Invariant: PinOrder is meaningful only while Pinned is true. Pin orders
// among pinned chats need not be contiguous, only totally ordered.
type ChatRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Pinned    bool      `json:"pinned,omitempty"`
	PinOrder  int       `json:"pinnedOrder,omitempty"`

	// Encrypted marks that the message list is currently held as
	// ciphertext in EncryptedMessages.
	Encrypted         bool   `json:"_encrypted,omitempty"`
	EncryptedMessages string `json:"_messagesEncrypted,omitempty"`

	// DecryptionFailed is set at load time when the envelope could not be
	// opened; the record is returned with an empty message list so one bad
	// record does not block the rest. Never persisted.
	DecryptionFailed bool `json:"-"`
}

// Clone returns a copy of the record with its own message slice.
func (c ChatRecord) Clone() ChatRecord {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return out
}
