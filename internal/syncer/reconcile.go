package syncer

import (
	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/model"
)

// Deliver applies one push-channel delivery to local state. Deliveries
// are processed strictly in arrival order — the transport's FIFO order
// within a session is the only ordering guarantee there is, so claimed
// timestamps never reorder the sequence. A malformed delivery is dropped
// without touching any state.
func (c *Client) Deliver(in model.Inbound) {
	m := in.Message

	if m.Content == "" || m.SenderID == 0 || m.ReceiverID == 0 || m.SenderID == m.ReceiverID {
		c.logger.Warn("dropping malformed delivery", zap.String("msg_id", m.ID))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	other := m.Counterpart(c.opts.LocalUser)
	if other == c.opts.LocalUser {
		// Neither participant is a counterpart; not for this session.
		return
	}

	// Idempotent delivery: a confirmed id we already hold is discarded
	// entirely, including its unread/summary effects. The loaded
	// sequence is the dedupe window; messages outside it are the
	// server's problem to not re-deliver.
	if (other == c.active || other == c.loadedFor) && c.containsConfirmedLocked(m.ID) {
		return
	}

	// A delivery echoing one of our own sends confirms the matching
	// pending attempt: stop its timer before it can retract anything.
	// Matching is best effort on (content, receiver) since the echo does
	// not carry the temporary id; among equal-content attempts the
	// oldest settles first, mirroring the broker's FIFO echoes.
	if m.SenderID == c.opts.LocalUser {
		var matchID string
		var match *pendingSend
		for id, p := range c.pending {
			if p.msg.Content == m.Content && p.msg.ReceiverID == m.ReceiverID {
				if match == nil || p.seq < match.seq {
					matchID, match = id, p
				}
			}
		}
		if match != nil {
			if match.timer != nil {
				match.timer.Stop()
			}
			delete(c.pending, matchID)
		}
	}

	if c.active == other {
		if c.loading {
			// History replace is in flight; hold the delivery and
			// re-apply it once the new sequence is in place.
			c.buffered = append(c.buffered, m)
		} else if c.applyToActiveLocked(m) {
			c.publish(bus.KindMessageAppended, m)
		}
	}

	// Every accepted delivery is server-confirmed. Announce it whether
	// or not its conversation is selected, so subscribers that track
	// all traffic (the archiver) see it; their writes are idempotent,
	// so a redelivery for an unselected conversation stays harmless.
	c.publish(bus.KindMessageConfirmed, m)

	c.upsertSummaryLocked(in, other)

	// The counterpart wrote into the open conversation: it is being
	// viewed, so tell the server it was seen.
	if m.SenderID == other && other == c.active {
		c.sendReadReceiptLocked(m.ID)
	}
}

// containsConfirmedLocked reports whether the active sequence (or the
// buffer, during a load) already holds a confirmed message with this id.
func (c *Client) containsConfirmedLocked(id string) bool {
	if id == "" {
		return false
	}
	for _, existing := range c.messages {
		if !existing.Optimistic && existing.ID == id {
			return true
		}
	}
	for _, existing := range c.buffered {
		if existing.ID == id {
			return true
		}
	}
	return false
}

// applyToActiveLocked merges one confirmed message into the active
// sequence: the oldest optimistic entry with the same content and
// participants is removed (the confirmation replaces it), and a
// duplicate confirmed id is skipped. Reports whether the message was
// appended.
func (c *Client) applyToActiveLocked(m model.Message) bool {
	// One confirmation settles one attempt; later equal-content sends
	// keep their optimistic entries for their own echoes.
	removed := false
	filtered := c.messages[:0]
	for _, existing := range c.messages {
		if !removed && existing.Optimistic &&
			existing.Content == m.Content &&
			existing.SenderID == m.SenderID &&
			existing.ReceiverID == m.ReceiverID {
			removed = true
			continue
		}
		filtered = append(filtered, existing)
	}
	c.messages = filtered

	for _, existing := range c.messages {
		if !existing.Optimistic && existing.ID == m.ID {
			return false
		}
	}
	c.messages = append(c.messages, m)
	return true
}

// upsertSummaryLocked creates the conversation if this is first contact
// and refreshes its last-message summary and unread count, then restores
// the recency ordering.
func (c *Client) upsertSummaryLocked(in model.Inbound, other model.UserID) {
	m := in.Message

	conv := c.findConv(other)
	if conv == nil {
		next := model.Conversation{CounterpartID: other}
		if m.SenderID == other {
			next.Name = in.SenderName
			next.Email = in.SenderEmail
		}
		c.conversations = append(c.conversations, next)
		conv = &c.conversations[len(c.conversations)-1]
	}

	conv.LastMessage = m.Content
	conv.LastMessageTime = m.Timestamp
	conv.LastMessageSenderID = m.SenderID
	switch {
	case m.SenderID == c.opts.LocalUser:
		// Own message echoed back never counts as unread.
	case other == c.active:
		conv.UnreadCount = 0
	default:
		conv.UnreadCount++
	}

	snapshot := *conv
	c.sortLocked()
	c.publish(bus.KindConversationUpdated, snapshot)
}
