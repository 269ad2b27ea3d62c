package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/model"
)

// Archiver mirrors the sync core's state changes into the archive. It
// subscribes to message and conversation events on the bus and upserts
// the rows they describe; because every write is idempotent, event
// redelivery or out-of-order arrival cannot corrupt the archive.
type Archiver struct {
	db        *DB
	bus       *bus.Bus
	logger    *zap.Logger
	localUser model.UserID
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewArchiver creates an archiver for the given local user.
func NewArchiver(db *DB, b *bus.Bus, localUser model.UserID, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{db: db, bus: b, logger: logger, localUser: localUser}
}

// Start subscribes to sync events and begins persisting them.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	msgCh, unsubMsgs := a.bus.Subscribe("message.", 256)
	convCh, unsubConvs := a.bus.Subscribe("conversation.", 256)

	go func() {
		defer close(a.done)
		defer unsubMsgs()
		defer unsubConvs()
		for {
			select {
			case evt := <-msgCh:
				a.handleMessage(evt)
			case evt := <-convCh:
				a.handleConversation(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription and waits for in-flight writes to finish.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *Archiver) handleMessage(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageAppended, bus.KindMessageConfirmed:
	default:
		return
	}
	msg, ok := evt.Payload.(model.Message)
	if !ok {
		return
	}
	// Optimistic entries carry a temporary id; only the confirmed echo
	// is worth a row.
	if msg.Optimistic {
		return
	}
	row := &Message{
		CounterpartID: int64(msg.Counterpart(a.localUser)),
		MsgID:         msg.ID,
		SenderID:      int64(msg.SenderID),
		ReceiverID:    int64(msg.ReceiverID),
		Body:          msg.Content,
		IsRead:        msg.IsRead,
		Timestamp:     msg.Timestamp.UnixMilli(),
	}
	if err := a.db.UpsertMessage(row); err != nil {
		a.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", msg.ID))
	}
}

func (a *Archiver) handleConversation(evt bus.Event) {
	if evt.Kind != bus.KindConversationUpdated {
		return
	}
	conv, ok := evt.Payload.(model.Conversation)
	if !ok {
		return
	}
	var lastAt int64
	if !conv.LastMessageTime.IsZero() {
		lastAt = conv.LastMessageTime.UnixMilli()
	}
	row := &Conversation{
		CounterpartID: int64(conv.CounterpartID),
		Name:          conv.Name,
		Email:         conv.Email,
		LastMessage:   conv.LastMessage,
		LastMessageAt: lastAt,
		LastSenderID:  int64(conv.LastMessageSenderID),
		UnreadCount:   conv.UnreadCount,
	}
	if err := a.db.UpsertConversation(row); err != nil {
		a.logger.Error("failed to archive conversation", zap.Error(err), zap.Int64("counterpart", row.CounterpartID))
	}
}
