package transport

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/communityhub/hubsync/internal/model"
)

func TestEncodeSend(t *testing.T) {
	body := EncodeSend(42, 3, "hi there")

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["receiverId"] != float64(42) {
		t.Errorf("receiverId = %v, want 42", decoded["receiverId"])
	}
	if decoded["communityId"] != float64(3) {
		t.Errorf("communityId = %v, want 3", decoded["communityId"])
	}
	if decoded["content"] != "hi there" {
		t.Errorf("content = %v, want %q", decoded["content"], "hi there")
	}
	if decoded["type"] != "DM" {
		t.Errorf("type = %v, want DM", decoded["type"])
	}
}

func TestEncodeMarkRead(t *testing.T) {
	if got := string(EncodeMarkRead("101")); got != "101" {
		t.Errorf("EncodeMarkRead = %q, want bare id", got)
	}
}

func TestFakeRecordsPublishes(t *testing.T) {
	f := NewFake()
	if err := f.Publish(DestSendMessage, []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	pubs := f.Published()
	if len(pubs) != 1 || pubs[0].Destination != DestSendMessage {
		t.Errorf("published = %+v, want one to %s", pubs, DestSendMessage)
	}
}

func TestFakeDisconnectedRejectsPublish(t *testing.T) {
	f := NewFake()
	f.SetConnected(false)
	if err := f.Publish(DestSendMessage, []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestFakeDeliverReachesHandler(t *testing.T) {
	f := NewFake()
	var got model.Inbound
	f.Handle(func(in model.Inbound) { got = in })

	f.Deliver(model.Inbound{Message: model.Message{ID: "9", SenderID: 7, ReceiverID: 3, Content: "hi"}})
	if got.Message.ID != "9" {
		t.Errorf("handler received %+v, want message 9", got)
	}
}
