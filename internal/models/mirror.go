package models

import "fmt"

// MirrorMessage is the on-disk representation of a message inside the
// file mirror's line logs. Unlike Message it carries chat context and an
// explicit sequence number: log files interleave multiple chats, and
// timestamps alone cannot order messages created in the same instant.
type MirrorMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	ChatTitle string `json:"chatTitle"`
	Order     int    `json:"order"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MirrorMessageID builds the deterministic mirror id for the message at
// the given position of a chat. Deterministic ids are what make repeated
// mirror syncs idempotent.
func MirrorMessageID(chatID string, index int) string {
	return fmt.Sprintf("%s-%d", chatID, index)
}
