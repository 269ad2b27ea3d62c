package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/model"
	"github.com/communityhub/hubsync/internal/transport"
)

// LoadConversations replaces the conversation list with the server
// roster for the configured community, keeping the server-reported
// unread counts. On failure the list is cleared and a recoverable error
// returned; retry is the caller's call.
func (c *Client) LoadConversations(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	roster, err := c.api.FetchRoster(ctx, c.opts.CommunityID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err != nil {
		c.conversations = nil
		c.logger.Warn("roster load failed", zap.Error(err))
		return fmt.Errorf("load conversations: %w", err)
	}

	c.conversations = roster
	c.sortLocked()
	c.publish(bus.KindRosterLoaded, len(roster))
	c.logger.Info("roster loaded", zap.Int("conversations", len(roster)))
	return nil
}

// SelectConversation makes counterpart the active conversation, resets
// its unread count immediately, and reloads its history: the server's
// newest-first page is reversed into the canonical oldest-first
// sequence, replacing the previous one. Deliveries arriving while the
// load is in flight are buffered and re-applied idempotently afterwards.
func (c *Client) SelectConversation(ctx context.Context, counterpart model.UserID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conv := c.findConv(counterpart)
	if conv == nil {
		c.mu.Unlock()
		return ErrUnknownConversation
	}

	c.active = counterpart
	conv.UnreadCount = 0
	c.loadSeq++
	seq := c.loadSeq
	c.loading = true
	c.buffered = nil
	c.publish(bus.KindConversationSelected, counterpart)
	c.publish(bus.KindConversationUpdated, *conv)
	c.mu.Unlock()

	page, err := c.api.FetchHistory(ctx, counterpart, 0, c.opts.PageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.loadSeq != seq {
		// A newer selection superseded this load; its result is stale.
		return nil
	}
	c.loading = false

	if err != nil {
		// Keep whatever was last loaded for this conversation rather
		// than clearing on a transient failure. If the previous load
		// belonged to a different conversation, fall back to the
		// buffered deliveries so foreign messages never leak in.
		if c.loadedFor != counterpart {
			c.messages = nil
			c.loadedFor = counterpart
		}
		c.replayBufferedLocked(counterpart)
		c.logger.Warn("history load failed", zap.Error(err), zap.String("counterpart", counterpart.String()))
		return fmt.Errorf("load history: %w", err)
	}

	// Reverse newest-first into oldest-first.
	msgs := make([]model.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		msgs = append(msgs, page[i])
	}
	c.messages = msgs
	c.loadedFor = counterpart
	c.replayBufferedLocked(counterpart)
	c.publish(bus.KindHistoryLoaded, counterpart)
	return nil
}

// replayBufferedLocked applies deliveries held during a history load,
// then restores any still-pending optimistic sends for the conversation
// (the replace would otherwise drop them).
func (c *Client) replayBufferedLocked(counterpart model.UserID) {
	for _, m := range c.buffered {
		c.applyToActiveLocked(m)
	}
	c.buffered = nil
	for _, p := range c.pending {
		if p.msg.ReceiverID == counterpart {
			c.messages = append(c.messages, p.msg)
		}
	}
}

// StartConversation begins messaging a roster member. If a conversation
// with that member already exists it is selected and ErrConversationExists
// returned; otherwise a new empty conversation is created and selected.
func (c *Client) StartConversation(ctx context.Context, member model.Member) (model.Conversation, error) {
	if member.UserID == c.opts.LocalUser {
		return model.Conversation{}, ErrSelfMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Conversation{}, ErrClosed
	}
	if existing := c.findConv(member.UserID); existing != nil {
		snapshot := *existing
		c.mu.Unlock()
		if err := c.SelectConversation(ctx, member.UserID); err != nil {
			return snapshot, err
		}
		return snapshot, ErrConversationExists
	}

	conv := model.Conversation{
		CounterpartID: member.UserID,
		Name:          member.DisplayName(),
		Email:         member.Email,
	}
	c.conversations = append(c.conversations, conv)
	c.sortLocked()

	// New conversation has no history to load; the empty sequence is
	// already canonical.
	c.active = member.UserID
	c.loadSeq++
	c.loading = false
	c.messages = nil
	c.loadedFor = member.UserID
	c.buffered = nil

	c.publish(bus.KindConversationSelected, member.UserID)
	c.publish(bus.KindConversationUpdated, conv)
	c.mu.Unlock()
	return conv, nil
}

// MarkRead resets a conversation's unread count locally. Read receipts
// to the server are best effort and ride on inbound deliveries, not on
// this call.
func (c *Client) MarkRead(counterpart model.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	conv := c.findConv(counterpart)
	if conv == nil {
		return ErrUnknownConversation
	}
	if conv.UnreadCount != 0 {
		conv.UnreadCount = 0
		c.publish(bus.KindConversationUpdated, *conv)
	}
	return nil
}

// sendReadReceiptLocked notifies the server that a message was seen.
// Failure is ignorable: the unread reset already happened locally and
// read state is reconciled again on the next roster load.
func (c *Client) sendReadReceiptLocked(messageID string) {
	if messageID == "" || !c.channel.IsConnected() {
		return
	}
	if err := c.channel.Publish(transport.DestMarkRead, transport.EncodeMarkRead(messageID)); err != nil {
		c.logger.Debug("read receipt not delivered", zap.Error(err), zap.String("msg_id", messageID))
	}
}
