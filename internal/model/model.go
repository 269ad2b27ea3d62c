// Package model holds the domain types shared by the sync core, the
// transport codec, the history client and the archive.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserID is the canonical participant identifier. The Hub server is not
// consistent about emitting ids as JSON numbers or strings, so every
// ingestion path normalizes to this one type before ids are compared.
type UserID int64

// ParseUserID accepts a decimal string and returns the canonical id.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", s, err)
	}
	return UserID(n), nil
}

// UnmarshalJSON accepts both `42` and `"42"`.
func (id *UserID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	parsed, err := ParseUserID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Message is a single direct message. ID is either the server-assigned
// id or a client-generated temporary id while the send is unconfirmed.
type Message struct {
	ID         string
	SenderID   UserID
	ReceiverID UserID
	Content    string
	Timestamp  time.Time
	IsRead     bool
	Optimistic bool
}

// Counterpart returns the other participant from localUser's point of view.
func (m Message) Counterpart(localUser UserID) UserID {
	if m.SenderID == localUser {
		return m.ReceiverID
	}
	return m.SenderID
}

// Conversation is the per-counterpart aggregate shown in the
// conversation list: identity plus a denormalized last-message summary
// and the unread counter.
type Conversation struct {
	CounterpartID       UserID
	Name                string
	Email               string
	LastMessage         string
	LastMessageTime     time.Time
	LastMessageSenderID UserID
	UnreadCount         int
}

// Member is a community roster entry eligible for messaging.
type Member struct {
	UserID   UserID
	FullName string
	Username string
	Email    string
	Role     string
}

// DisplayName resolves the name shown for a member, preferring the full
// name over the username over the email address.
func (m Member) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	if m.Username != "" {
		return m.Username
	}
	return m.Email
}

// wireMessage mirrors the server MessageDTO. The server emits both
// `createdAt` and `timestamp` (an alias) and historically used either,
// so decoding accepts both and prefers `timestamp`.
type wireMessage struct {
	ID          json.Number `json:"id"`
	SenderID    UserID      `json:"senderId"`
	ReceiverID  UserID      `json:"receiverId"`
	SenderName  string      `json:"senderName"`
	SenderEmail string      `json:"senderEmail"`
	Content     string      `json:"content"`
	IsRead      bool        `json:"isRead"`
	CreatedAt   string      `json:"createdAt"`
	Timestamp   string      `json:"timestamp"`
}

// Inbound is a decoded push-channel delivery: the message plus the
// sender identity fields used when the counterpart is not yet known.
type Inbound struct {
	Message     Message
	SenderName  string
	SenderEmail string
}

// DecodeInbound parses a MessageDTO JSON payload from the push channel.
func DecodeInbound(data []byte) (Inbound, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Inbound{}, fmt.Errorf("decode inbound message: %w", err)
	}
	if w.Content == "" {
		return Inbound{}, fmt.Errorf("inbound message has empty content")
	}
	if w.SenderID == 0 || w.ReceiverID == 0 {
		return Inbound{}, fmt.Errorf("inbound message missing participant ids")
	}
	ts := w.Timestamp
	if ts == "" {
		ts = w.CreatedAt
	}
	return Inbound{
		Message: Message{
			ID:         w.ID.String(),
			SenderID:   w.SenderID,
			ReceiverID: w.ReceiverID,
			Content:    w.Content,
			Timestamp:  parseServerTime(ts),
			IsRead:     w.IsRead,
		},
		SenderName:  w.SenderName,
		SenderEmail: w.SenderEmail,
	}, nil
}

// parseServerTime handles the two timestamp shapes the server produces:
// RFC3339 and Java LocalDateTime.toString() (no zone suffix). A blank or
// unparsable value falls back to the current time rather than zero, so a
// fresh message never sorts below older history.
func parseServerTime(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
