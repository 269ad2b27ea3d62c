package transport

import (
	"context"
	"sync"

	"github.com/communityhub/hubsync/internal/model"
)

// Publication records one outbound Publish call on the Fake.
type Publication struct {
	Destination string
	Body        []byte
}

// Fake is an in-memory Channel for tests: publishes are recorded, and
// the test injects deliveries and connection flips directly.
type Fake struct {
	mu         sync.Mutex
	connected  bool
	handler    func(model.Inbound)
	published  []Publication
	publishErr error
}

// NewFake returns a connected fake channel.
func NewFake() *Fake {
	return &Fake{connected: true}
}

func (f *Fake) Open(context.Context) error { return nil }
func (f *Fake) Close()                     {}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Publish(destination string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, Publication{Destination: destination, Body: append([]byte(nil), body...)})
	return nil
}

func (f *Fake) Handle(fn func(model.Inbound)) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

// SetConnected flips the reported connection state.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// FailPublishes makes subsequent Publish calls return err.
func (f *Fake) FailPublishes(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

// Deliver pushes an inbound delivery through the registered handler, as
// the broker would.
func (f *Fake) Deliver(in model.Inbound) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(in)
	}
}

// Published returns a copy of the recorded publishes.
func (f *Fake) Published() []Publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Publication(nil), f.published...)
}
