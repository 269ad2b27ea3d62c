package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/model"
	"github.com/communityhub/hubsync/internal/transport"
)

// Send publishes a direct message to counterpart. The message appears
// optimistically in the active sequence under a temporary id and stays
// pending until the server echoes it back; an echo that never arrives
// within the send timeout retracts the optimistic entry. The returned
// message carries the temporary id.
func (c *Client) Send(counterpart model.UserID, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyContent
	}
	if counterpart == c.opts.LocalUser {
		return model.Message{}, ErrSelfMessage
	}
	if !c.channel.IsConnected() {
		return model.Message{}, ErrNotConnected
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Message{}, ErrClosed
	}

	msg := model.Message{
		ID:         "temp-" + uuid.NewString(),
		SenderID:   c.opts.LocalUser,
		ReceiverID: counterpart,
		Content:    content,
		Timestamp:  time.Now(),
		Optimistic: true,
	}

	if c.active == counterpart && !c.loading {
		c.messages = append(c.messages, msg)
		c.publish(bus.KindMessageAppended, msg)
	}
	if conv := c.findConv(counterpart); conv != nil {
		conv.LastMessage = msg.Content
		conv.LastMessageTime = msg.Timestamp
		conv.LastMessageSenderID = msg.SenderID
		snapshot := *conv
		c.sortLocked()
		c.publish(bus.KindConversationUpdated, snapshot)
	}
	c.sendSeq++
	c.pending[msg.ID] = &pendingSend{msg: msg, seq: c.sendSeq}
	c.mu.Unlock()

	body := transport.EncodeSend(counterpart, c.opts.CommunityID, content)
	if err := c.channel.Publish(transport.DestSendMessage, body); err != nil {
		// Synchronous publish failure: the attempt never left the
		// machine, so retract it immediately.
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.removeMessageLocked(msg.ID)
		c.mu.Unlock()
		c.publish(bus.KindMessageSendFailed, msg)
		c.logger.Warn("send failed", zap.Error(err), zap.String("counterpart", counterpart.String()))
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	if p, ok := c.pending[msg.ID]; ok {
		// The echo may have already confirmed it while the lock was
		// released; only a still-pending attempt gets a timer.
		p.timer = time.AfterFunc(c.opts.SendTimeout, func() { c.expireSend(msg.ID) })
	}
	c.mu.Unlock()

	return msg, nil
}

// expireSend retracts an optimistic send whose echo never arrived.
func (c *Client) expireSend(tempID string) {
	c.mu.Lock()
	p, ok := c.pending[tempID]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, tempID)
	c.removeMessageLocked(tempID)
	c.mu.Unlock()

	c.publish(bus.KindMessageSendTimeout, p.msg)
	c.logger.Warn("send timed out",
		zap.String("msg_id", tempID),
		zap.String("counterpart", p.msg.ReceiverID.String()))
}

// removeMessageLocked drops the message with the given id from the
// active sequence, if present.
func (c *Client) removeMessageLocked(id string) {
	for i, m := range c.messages {
		if m.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}
