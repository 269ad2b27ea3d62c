// Package transport carries message payloads between hubsync and the
// Hub server's STOMP broker. The sync core only sees the Channel
// interface; tests substitute the Fake.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/communityhub/hubsync/internal/model"
)

// Broker destinations, dictated by the Hub server.
const (
	DestSendMessage = "/app/chat.sendMessage"
	DestMarkRead    = "/app/chat.markAsRead"
	QueueMessages   = "/user/queue/messages"
)

// ErrNotConnected is returned by Publish while the channel is down.
var ErrNotConnected = errors.New("transport: not connected")

// Channel is a duplex push channel. Inbound deliveries are handed to the
// registered handler in frame-arrival order for the life of one
// connected session; nothing is guaranteed across a reconnect.
type Channel interface {
	// Open starts the channel and its reconnect loop. It returns once
	// the first connection attempt has been started, not once connected.
	Open(ctx context.Context) error
	// Close tears the channel down and stops reconnecting.
	Close()
	// IsConnected reports whether a session is currently established.
	IsConnected() bool
	// Publish sends a payload to a broker destination. It fails
	// synchronously when the channel is down.
	Publish(destination string, body []byte) error
	// Handle registers the inbound delivery callback. Must be called
	// before Open.
	Handle(fn func(model.Inbound))
}

// sendPayload is the /app/chat.sendMessage body.
type sendPayload struct {
	ReceiverID  model.UserID `json:"receiverId"`
	CommunityID int64        `json:"communityId"`
	Content     string       `json:"content"`
	Type        string       `json:"type"`
}

// EncodeSend builds the outbound direct-message payload.
func EncodeSend(receiver model.UserID, communityID int64, content string) []byte {
	body, _ := json.Marshal(sendPayload{
		ReceiverID:  receiver,
		CommunityID: communityID,
		Content:     content,
		Type:        "DM",
	})
	return body
}

// EncodeMarkRead builds the read-receipt payload. The broker expects the
// bare numeric message id.
func EncodeMarkRead(messageID string) []byte {
	return []byte(messageID)
}
