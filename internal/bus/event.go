package bus

import "time"

// Event kinds published by hubsync components. Subscribers filter by
// namespace prefix, e.g. "message." receives every message event.
const (
	KindConversationUpdated  = "conversation.updated"
	KindConversationSelected = "conversation.selected"
	KindRosterLoaded         = "roster.loaded"
	KindRosterMembers        = "roster.members"
	KindHistoryLoaded        = "history.loaded"
	KindMessageAppended      = "message.appended"
	KindMessageConfirmed     = "message.confirmed"
	KindMessageSendFailed    = "message.send_failed"
	KindMessageSendTimeout   = "message.send_timeout"
	KindTransportConnected   = "transport.connected"
	KindTransportDisconnect  = "transport.disconnected"
	KindStatusChanged        = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
