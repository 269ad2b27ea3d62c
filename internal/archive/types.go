package archive

// Conversation is an archived conversation row.
type Conversation struct {
	CounterpartID int64
	Name          string
	Email         string
	LastMessage   string
	LastMessageAt int64
	LastSenderID  int64
	UnreadCount   int
}

// Message is an archived message row. MsgID is the server-assigned id;
// ID is the local rowid.
type Message struct {
	ID            int64
	CounterpartID int64
	MsgID         string
	SenderID      int64
	ReceiverID    int64
	Body          string
	IsRead        bool
	Timestamp     int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
