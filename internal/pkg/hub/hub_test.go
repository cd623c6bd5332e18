package hub

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while expecting data")
		}
		return data
	case <-time.After(3 * time.Second):
		t.Fatalf("no data within 3s")
		return nil
	}
}

func TestDispatchReachesSubscribersOnly(t *testing.T) {
	h := NewHub(8)
	a := h.Register("conn-a", 1)
	b := h.Register("conn-b", 2)
	h.Subscribe("conn-a", 100)
	h.Subscribe("conn-b", 200)

	h.Dispatch(100, []byte("hello"))

	if got := recv(t, a.Outbound()); string(got) != "hello" {
		t.Fatalf("conn-a got %q", got)
	}
	select {
	case data := <-b.Outbound():
		t.Fatalf("conn-b leaked event from another conversation: %q", data)
	default:
	}
}

func TestDispatchPreservesOrder(t *testing.T) {
	h := NewHub(16)
	a := h.Register("conn-a", 1)
	h.Subscribe("conn-a", 100)

	for i := byte('0'); i < '5'; i++ {
		h.Dispatch(100, []byte{i})
	}
	for i := byte('0'); i < '5'; i++ {
		if got := recv(t, a.Outbound()); got[0] != i {
			t.Fatalf("got %q, want %q in order", got, []byte{i})
		}
	}
}

func TestSubscribeUnknownConnIsNoop(t *testing.T) {
	h := NewHub(8)
	h.Subscribe("ghost", 100)
	if n := h.SubscriberCount(100); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(8)
	a := h.Register("conn-a", 1)
	h.Subscribe("conn-a", 100)
	h.Unsubscribe("conn-a", 100)

	h.Dispatch(100, []byte("x"))
	select {
	case data := <-a.Outbound():
		t.Fatalf("unsubscribed conn got %q", data)
	default:
	}
	if n := h.SubscriberCount(100); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n)
	}
}

func TestUnregisterClosesOutbound(t *testing.T) {
	h := NewHub(8)
	a := h.Register("conn-a", 1)
	h.Subscribe("conn-a", 100)
	h.Subscribe("conn-a", 200)

	h.Unregister("conn-a")

	if _, ok := <-a.Outbound(); ok {
		t.Fatalf("outbound channel still open after unregister")
	}
	if h.SubscriberCount(100) != 0 || h.SubscriberCount(200) != 0 {
		t.Fatalf("subscriptions survived unregister")
	}
	// 重复注销安全
	h.Unregister("conn-a")
}

// 消费失速的连接被摘除，发布方不被拖住
func TestStalledConnForceRemoved(t *testing.T) {
	h := NewHub(1)
	slow := h.Register("slow", 1)
	fast := h.Register("fast", 2)
	h.Subscribe("slow", 100)
	h.Subscribe("fast", 100)

	h.Dispatch(100, []byte("1")) // 占满 slow 的缓冲
	h.Dispatch(100, []byte("2")) // slow 失速，被摘除

	if got := recv(t, fast.Outbound()); string(got) != "1" {
		t.Fatalf("fast got %q, want 1", got)
	}
	if got := recv(t, fast.Outbound()); string(got) != "2" {
		t.Fatalf("fast got %q, want 2", got)
	}

	if n := h.SubscriberCount(100); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1 after stalled conn removed", n)
	}
	// 被摘除的连接先收到积压的那条，然后通道关闭
	if got := recv(t, slow.Outbound()); string(got) != "1" {
		t.Fatalf("slow got %q, want its buffered 1", got)
	}
	if _, ok := <-slow.Outbound(); ok {
		t.Fatalf("stalled conn channel still open")
	}
}

func TestLocalBroadcasterEncodesEvent(t *testing.T) {
	h := NewHub(8)
	a := h.Register("conn-a", 1)
	h.Subscribe("conn-a", 100)
	b := NewLocalBroadcaster(h)

	ev := NewEvent(EventTyping, 100, 7, map[string]uint64{"user_id": 42})
	if err := b.Broadcast(context.Background(), ev); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	data := recv(t, a.Outbound())
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if decoded.Type != EventTyping || decoded.ConversationID != 100 || decoded.Seq != 7 {
		t.Fatalf("decoded = %+v", decoded)
	}
	var payload map[string]uint64
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["user_id"] != 42 {
		t.Fatalf("payload = %v", payload)
	}
}

func TestNewEventSwallowsBadPayload(t *testing.T) {
	// 函数值无法序列化，事件仍应可用
	ev := NewEvent(EventMessageReceived, 1, 2, func() {})
	if ev.Data != nil {
		t.Fatalf("data = %q, want empty on marshal failure", ev.Data)
	}
	if _, err := ev.Encode(); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}
