// Package syncer owns the session's conversation and message state: it
// merges optimistic sends with server-confirmed deliveries from the push
// channel, keeps the conversation list ordered by recency, and maintains
// unread counts. Consumers read immutable snapshots and listen on the
// bus; the transport and history API are injected collaborators.
package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/model"
	"github.com/communityhub/hubsync/internal/transport"
)

// Errors reported to callers. Validation errors reject the operation
// before any state mutation.
var (
	ErrEmptyContent        = errors.New("syncer: message content is empty")
	ErrSelfMessage         = errors.New("syncer: cannot message yourself")
	ErrNotConnected        = errors.New("syncer: transport not connected")
	ErrConversationExists  = errors.New("syncer: conversation already exists")
	ErrUnknownConversation = errors.New("syncer: no such conversation")
	ErrClosed              = errors.New("syncer: client is closed")
)

// HistoryAPI is the read side of the Hub server consumed by the client.
type HistoryAPI interface {
	FetchRoster(ctx context.Context, communityID int64) ([]model.Conversation, error)
	FetchHistory(ctx context.Context, counterpart model.UserID, page, size int) ([]model.Message, error)
}

// Options configures a Client.
type Options struct {
	LocalUser   model.UserID
	CommunityID int64
	SendTimeout time.Duration // how long an optimistic send waits for its echo
	PageSize    int           // history page size
}

// Client is the message sync core. All state mutations run to
// completion under one mutex, whether triggered by a user intent, a
// transport delivery, or a timer; collaborators never touch the state
// directly.
type Client struct {
	opts    Options
	channel transport.Channel
	api     HistoryAPI
	bus     *bus.Bus
	logger  *zap.Logger

	mu            sync.Mutex
	conversations []model.Conversation
	active        model.UserID    // 0 = none selected
	messages      []model.Message // active conversation, oldest first
	loadedFor     model.UserID    // conversation the messages slice belongs to
	loading       bool            // history load in flight for the active conversation
	loadSeq       uint64          // invalidates superseded loads
	buffered      []model.Message // deliveries held during a history load
	pending       map[string]*pendingSend
	sendSeq       uint64 // orders pending attempts for confirmation matching
	closed        bool
}

// pendingSend tracks one optimistic outbound attempt until it is
// confirmed, times out, or fails. seq orders attempts so an echo
// settles the oldest equal-content one.
type pendingSend struct {
	msg   model.Message
	timer *time.Timer
	seq   uint64
}

// New creates a sync client. The caller wires the channel's inbound
// handler to Deliver (the daemon does this before opening the channel).
func New(opts Options, channel transport.Channel, api HistoryAPI, b *bus.Bus, logger *zap.Logger) *Client {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		channel: channel,
		api:     api,
		bus:     b,
		logger:  logger,
		pending: make(map[string]*pendingSend),
	}
}

// Conversations returns a copy of the conversation list in display
// order: most recent last message first.
func (c *Client) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Conversation(nil), c.conversations...)
}

// Messages returns a copy of the active conversation's sequence, oldest
// first.
func (c *Client) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// Active returns the selected counterpart, or false when none is.
func (c *Client) Active() (model.UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != 0
}

// Connected reports whether the push channel currently has a session.
func (c *Client) Connected() bool {
	return c.channel.IsConnected()
}

// Close stops all pending-send timers and rejects further operations.
// The channel itself is closed by whoever opened it.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.pending, id)
	}
}

// findConv returns a pointer into the conversation slice, valid only
// while the lock is held.
func (c *Client) findConv(counterpart model.UserID) *model.Conversation {
	for i := range c.conversations {
		if c.conversations[i].CounterpartID == counterpart {
			return &c.conversations[i]
		}
	}
	return nil
}

// sortLocked re-orders the list by last message time descending.
// Conversations that have no messages yet keep their relative order at
// the tail (zero time sorts last under a stable sort).
func (c *Client) sortLocked() {
	sort.SliceStable(c.conversations, func(i, j int) bool {
		return c.conversations[i].LastMessageTime.After(c.conversations[j].LastMessageTime)
	})
}

func (c *Client) publish(kind string, payload any) {
	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}
