// Package history is the REST client for the Hub server's roster and
// message-history endpoints. The server stays authoritative; this client
// only reads.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/model"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = fmt.Errorf("history: unauthorized")

const (
	defaultTimeout = 15 * time.Second
	maxRetries     = 3
)

// Client talks to the Hub REST API with bearer auth. Transient failures
// (network errors and 5xx) are retried with exponential backoff; any 4xx
// is terminal.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client for the given REST base URL, e.g.
// "https://hub.example.com/api".
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// wireConversation mirrors the /messages/conversations response entries.
type wireConversation struct {
	UserID              model.UserID `json:"userId"`
	Name                string       `json:"name"`
	Email               string       `json:"email"`
	LastMessage         string       `json:"lastMessage"`
	LastMessageTime     string       `json:"lastMessageTime"`
	LastMessageSenderID model.UserID `json:"lastMessageSenderId"`
	UnreadCount         int          `json:"unreadCount"`
}

// FetchRoster returns the conversation roster for a community, already
// carrying the server-side unread counts and last-message summaries.
func (c *Client) FetchRoster(ctx context.Context, communityID int64) ([]model.Conversation, error) {
	endpoint := fmt.Sprintf("%s/messages/conversations?communityId=%d", c.baseURL, communityID)

	var wire []wireConversation
	if err := c.getJSON(ctx, endpoint, &wire); err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}

	conversations := make([]model.Conversation, 0, len(wire))
	for _, w := range wire {
		if w.UserID == 0 {
			continue
		}
		conversations = append(conversations, model.Conversation{
			CounterpartID:       w.UserID,
			Name:                w.Name,
			Email:               w.Email,
			LastMessage:         w.LastMessage,
			LastMessageTime:     parseTime(w.LastMessageTime),
			LastMessageSenderID: w.LastMessageSenderID,
			UnreadCount:         w.UnreadCount,
		})
	}
	return conversations, nil
}

// wireHistoryMessage mirrors the MessageDTO entries in a history page.
type wireHistoryMessage struct {
	ID         json.Number  `json:"id"`
	SenderID   model.UserID `json:"senderId"`
	ReceiverID model.UserID `json:"receiverId"`
	Content    string       `json:"content"`
	IsRead     bool         `json:"isRead"`
	CreatedAt  string       `json:"createdAt"`
	Timestamp  string       `json:"timestamp"`
}

type wireHistoryPage struct {
	Messages []wireHistoryMessage `json:"messages"`
}

// FetchHistory returns one page of the message history with a
// counterpart, newest first as the server orders it.
func (c *Client) FetchHistory(ctx context.Context, counterpart model.UserID, page, size int) ([]model.Message, error) {
	endpoint := fmt.Sprintf("%s/messages/conversation/%s?page=%d&size=%d", c.baseURL, url.PathEscape(counterpart.String()), page, size)

	var wire wireHistoryPage
	if err := c.getJSON(ctx, endpoint, &wire); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	msgs := make([]model.Message, 0, len(wire.Messages))
	for _, w := range wire.Messages {
		ts := w.Timestamp
		if ts == "" {
			ts = w.CreatedAt
		}
		msgs = append(msgs, model.Message{
			ID:         w.ID.String(),
			SenderID:   w.SenderID,
			ReceiverID: w.ReceiverID,
			Content:    w.Content,
			Timestamp:  parseTime(ts),
			IsRead:     w.IsRead,
		})
	}
	return msgs, nil
}

// wireMember mirrors the /communities/{id}/members response entries.
type wireMember struct {
	UserID   model.UserID `json:"userId"`
	FullName string       `json:"fullName"`
	Username string       `json:"username"`
	Email    string       `json:"email"`
	Role     string       `json:"role"`
}

// FetchMembers returns the community roster used to start new conversations.
func (c *Client) FetchMembers(ctx context.Context, communityID int64) ([]model.Member, error) {
	endpoint := fmt.Sprintf("%s/communities/%d/members", c.baseURL, communityID)

	var wire []wireMember
	if err := c.getJSON(ctx, endpoint, &wire); err != nil {
		return nil, fmt.Errorf("fetch members: %w", err)
	}

	members := make([]model.Member, 0, len(wire))
	for _, w := range wire {
		members = append(members, model.Member{
			UserID:   w.UserID,
			FullName: w.FullName,
			Username: w.Username,
			Email:    w.Email,
			Role:     w.Role,
		})
	}
	return members, nil
}

// UnreadCount returns the total unread message count for the local user.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	var wire struct {
		Count int64 `json:"count"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/messages/unread-count", &wire); err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}
	return wire.Count, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error: %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status: %s", resp.Status))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}
	return nil
}

// parseTime tolerates the server's two timestamp shapes (RFC3339 and
// Java LocalDateTime with no zone). A missing value stays zero here,
// unlike inbound deliveries: roster entries with no messages must sort
// after dated ones.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
