package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/model"
	"github.com/communityhub/hubsync/internal/status"
)

// errAuthRejected stops the reconnect loop: retrying a bad token is pointless.
type errAuthRejected struct{ code int }

func (e *errAuthRejected) Error() string {
	return fmt.Sprintf("transport: broker rejected credentials (HTTP %d)", e.code)
}

// Options configures the STOMP channel.
type Options struct {
	URL       string // websocket endpoint, e.g. wss://hub.example.com/ws/websocket
	Token     string // bearer token sent on the upgrade request
	HeartBeat time.Duration
}

// Stomp is the production Channel: gorilla/websocket carries STOMP
// frames to the Hub broker, go-stomp speaks the protocol on top. A lost
// connection is retried with exponential backoff; each established
// session re-subscribes to the user message queue from scratch.
type Stomp struct {
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu        sync.RWMutex
	conn      *stomp.Conn
	connected bool
	handler   func(model.Inbound)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStomp creates a STOMP channel. bus and machine may be nil in tests.
func NewStomp(opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Stomp {
	if opts.HeartBeat <= 0 {
		opts.HeartBeat = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stomp{
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Handle registers the inbound delivery callback. Must be called before Open.
func (s *Stomp) Handle(fn func(model.Inbound)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Open starts the connect/reconnect loop in the background.
func (s *Stomp) Open(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Close stops the reconnect loop and drops any live session.
func (s *Stomp) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// IsConnected reports whether a broker session is established.
func (s *Stomp) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Publish sends body to a broker destination on the live session.
func (s *Stomp) Publish(destination string, body []byte) error {
	s.mu.RLock()
	conn := s.conn
	connected := s.connected
	s.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(destination, "application/json", body); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}

func (s *Stomp) run(ctx context.Context) {
	defer close(s.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until closed

	for {
		if ctx.Err() != nil {
			return
		}
		s.transition(status.Connecting)

		conn, ws, err := s.dial(ctx)
		if err != nil {
			if _, ok := err.(*errAuthRejected); ok {
				s.logger.Error("broker rejected credentials", zap.Error(err))
				s.transition(status.AuthFailed)
				return
			}
			wait := bo.NextBackOff()
			s.logger.Warn("broker connect failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		s.mu.Unlock()
		s.logger.Info("broker connected", zap.String("url", s.opts.URL))
		s.publish(bus.Event{Kind: bus.KindTransportConnected})

		err = s.consume(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.connected = false
		s.mu.Unlock()
		_ = ws.Close()
		s.publish(bus.Event{Kind: bus.KindTransportDisconnect})

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("broker session lost", zap.Error(err))
		s.transition(status.Reconnecting)
	}
}

// dial upgrades the websocket and performs the STOMP handshake.
func (s *Stomp) dial(ctx context.Context) (*stomp.Conn, *websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, nil, &errAuthRejected{code: resp.StatusCode}
		}
		return nil, nil, fmt.Errorf("dial websocket: %w", err)
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(s.opts.HeartBeat, s.opts.HeartBeat),
	}
	if s.opts.Token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+s.opts.Token))
	}

	conn, err := stomp.Connect(newWSStream(ws), opts...)
	if err != nil {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("stomp handshake: %w", err)
	}
	return conn, ws, nil
}

// consume subscribes to the user queue and dispatches deliveries until
// the session dies or ctx is cancelled.
func (s *Stomp) consume(ctx context.Context, conn *stomp.Conn) error {
	sub, err := conn.Subscribe(QueueMessages, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", QueueMessages, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Disconnect()
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			if msg.Err != nil {
				return msg.Err
			}
			inbound, err := model.DecodeInbound(msg.Body)
			if err != nil {
				// One malformed frame must not take the session down.
				s.logger.Warn("dropping malformed delivery", zap.Error(err))
				continue
			}
			s.mu.RLock()
			handler := s.handler
			s.mu.RUnlock()
			if handler != nil {
				handler(inbound)
			}
		}
	}
}

func (s *Stomp) transition(to status.State) {
	if s.machine == nil {
		return
	}
	if err := s.machine.Transition(to); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (s *Stomp) publish(evt bus.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
