// Package chat holds the domain types of the group chat and the
// persist-then-publish send path shared by every session.
package chat

import "time"

// Message is a stored chat message. It is never mutated after Append.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the verified caller attached to a request or connection.
// The zero value is an anonymous caller.
type Identity struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// IsAnonymous reports whether no user has been authenticated.
func (i Identity) IsAnonymous() bool {
	return i.ID == ""
}

// IdentityOf strips the credentials from a user.
func IdentityOf(u User) Identity {
	return Identity{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// Sender is the display form of a message author.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MessageView is a message as clients see it, with its sender populated.
type MessageView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessageView joins a stored message with its sender.
func NewMessageView(m Message, sender Sender) MessageView {
	return MessageView{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    sender,
		CreatedAt: m.CreatedAt,
	}
}

// Stats are aggregate counters, independent of presence.
type Stats struct {
	TotalUsers      int `json:"totalUsers"`
	TotalChatCounts int `json:"totalChatCounts"`
}
