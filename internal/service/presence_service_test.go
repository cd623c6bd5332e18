package service

import (
	"Chorus/internal/model"
	"Chorus/internal/pkg/hub"
	"context"
	"errors"
	"testing"
	"time"
)

type presenceFixture struct {
	store    *fakePresenceStore
	convRepo *fakeConvRepo
	userRepo *fakeUserRepo
	bus      *recordingBroadcaster
	svc      PresenceService
}

func newPresenceFixture(window, typingTTL time.Duration) *presenceFixture {
	f := &presenceFixture{
		store:    newFakePresenceStore(),
		convRepo: newFakeConvRepo(),
		userRepo: newFakeUserRepo(),
		bus:      &recordingBroadcaster{},
	}
	f.svc = NewPresenceService(f.store, f.convRepo, f.userRepo, f.bus, window, typingTTL)
	return f
}

func (f *presenceFixture) seedConvWithMember(userID uint64) *model.Conversation {
	conv := f.convRepo.seedConv(&model.Conversation{IsMultiUser: 1, OwnerID: userID})
	f.convRepo.seedMember(conv.ID, userID, model.ConvRoleOwner, 1)
	f.userRepo.seedUser(userID, "在场用户")
	return conv
}

func TestMarkOnlineRejectsNonMember(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)

	err := f.svc.MarkOnline(context.Background(), conv.ID, 99, "conn-x")
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("err = %v, want ErrNotAMember", err)
	}
	if n := f.bus.countByType(hub.EventPresenceOnline); n != 0 {
		t.Fatalf("PRESENCE_ONLINE events = %d, want 0", n)
	}
}

func TestSecondConnectionDoesNotRebroadcastOnline(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)

	if err := f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-a"); err != nil {
		t.Fatalf("MarkOnline conn-a: %v", err)
	}
	if err := f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-b"); err != nil {
		t.Fatalf("MarkOnline conn-b: %v", err)
	}

	if n := f.bus.countByType(hub.EventPresenceOnline); n != 1 {
		t.Fatalf("PRESENCE_ONLINE events = %d, want 1", n)
	}
	online, err := f.svc.ListOnline(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	if len(online) != 1 || online[0].ConnCount != 2 {
		t.Fatalf("online = %+v, want one user with two connections", online)
	}
}

func TestMarkOfflineKeepsUserUntilLastConnection(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)
	_ = f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-a")
	_ = f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-b")

	if err := f.svc.MarkOffline(context.Background(), "conn-a"); err != nil {
		t.Fatalf("MarkOffline conn-a: %v", err)
	}
	if n := f.bus.countByType(hub.EventPresenceOffline); n != 0 {
		t.Fatalf("offline events after first disconnect = %d, want 0", n)
	}

	if err := f.svc.MarkOffline(context.Background(), "conn-b"); err != nil {
		t.Fatalf("MarkOffline conn-b: %v", err)
	}
	if n := f.bus.countByType(hub.EventPresenceOffline); n != 1 {
		t.Fatalf("offline events after last disconnect = %d, want 1", n)
	}

	online, _ := f.svc.ListOnline(context.Background(), conv.ID)
	if len(online) != 0 {
		t.Fatalf("online after full disconnect = %+v, want empty", online)
	}
}

// 断开只认连接号。同一用户换了连接重连后，旧连接的断开不影响新连接
func TestMarkOfflineOnlyRemovesOwnConnection(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)
	_ = f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-old")
	_ = f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-new")

	if err := f.svc.MarkOffline(context.Background(), "conn-old"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	online, _ := f.svc.ListOnline(context.Background(), conv.ID)
	if len(online) != 1 || online[0].ConnCount != 1 {
		t.Fatalf("online = %+v, want the new connection to survive", online)
	}
}

func TestMarkOfflineUnknownConnIsNoop(t *testing.T) {
	f := newPresenceFixture(0, 0)

	if err := f.svc.MarkOffline(context.Background(), "conn-ghost"); err != nil {
		t.Fatalf("MarkOffline ghost: %v", err)
	}
	if len(f.bus.events) != 0 {
		t.Fatalf("events = %d, want 0", len(f.bus.events))
	}
}

func TestMarkOnlineSpansMultipleConversations(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv1 := f.seedConvWithMember(1)
	conv2 := f.convRepo.seedConv(&model.Conversation{IsMultiUser: 1, OwnerID: 1})
	f.convRepo.seedMember(conv2.ID, 1, model.ConvRoleOwner, 1)

	_ = f.svc.MarkOnline(context.Background(), conv1.ID, 1, "conn-a")
	_ = f.svc.MarkOnline(context.Background(), conv2.ID, 1, "conn-a")

	if err := f.svc.MarkOffline(context.Background(), "conn-a"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	// 两个会话各收到一次离场
	if n := f.bus.countByType(hub.EventPresenceOffline); n != 2 {
		t.Fatalf("offline events = %d, want 2", n)
	}
}

func TestTypingExpiresWithoutExplicitStop(t *testing.T) {
	f := newPresenceFixture(0, 30*time.Millisecond)
	conv := f.seedConvWithMember(1)

	if err := f.svc.SetTyping(context.Background(), conv.ID, 1, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	typing, _ := f.svc.ListTyping(context.Background(), conv.ID)
	if len(typing) != 1 || typing[0] != 1 {
		t.Fatalf("typing = %v, want [1]", typing)
	}

	time.Sleep(50 * time.Millisecond)
	typing, _ = f.svc.ListTyping(context.Background(), conv.ID)
	if len(typing) != 0 {
		t.Fatalf("typing after ttl = %v, want empty", typing)
	}
}

func TestTypingExplicitStopClearsImmediately(t *testing.T) {
	f := newPresenceFixture(0, time.Minute)
	conv := f.seedConvWithMember(1)

	_ = f.svc.SetTyping(context.Background(), conv.ID, 1, true)
	if err := f.svc.SetTyping(context.Background(), conv.ID, 1, false); err != nil {
		t.Fatalf("SetTyping stop: %v", err)
	}
	typing, _ := f.svc.ListTyping(context.Background(), conv.ID)
	if len(typing) != 0 {
		t.Fatalf("typing = %v, want empty", typing)
	}
	if n := f.bus.countByType(hub.EventTyping); n != 2 {
		t.Fatalf("TYPING events = %d, want 2", n)
	}
}

func TestTypingRejectsNonMember(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)

	err := f.svc.SetTyping(context.Background(), conv.ID, 99, true)
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("err = %v, want ErrNotAMember", err)
	}
}

func TestSweepReclaimsStaleConnections(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)

	// 一条早已断联的连接和一条活跃连接
	_ = f.store.Upsert(context.Background(), conv.ID, 1, "conn-stale", time.Now().Add(-time.Hour))
	_ = f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-live")

	reclaimed, err := f.svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	online, _ := f.svc.ListOnline(context.Background(), conv.ID)
	if len(online) != 1 || online[0].ConnCount != 1 {
		t.Fatalf("online = %+v, want only the live connection", online)
	}
}

func TestTouchRefreshesHeartbeat(t *testing.T) {
	f := newPresenceFixture(0, 0)
	conv := f.seedConvWithMember(1)
	_ = f.svc.MarkOnline(context.Background(), conv.ID, 1, "conn-a")

	// 把心跳做旧到窗口之外，连接视为失联
	_ = f.store.Upsert(context.Background(), conv.ID, 1, "conn-a", time.Now().Add(-time.Hour))
	online, _ := f.svc.ListOnline(context.Background(), conv.ID)
	if len(online) != 0 {
		t.Fatalf("stale connection still online: %+v", online)
	}

	if err := f.svc.Touch(context.Background(), "conn-a"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	online, _ = f.svc.ListOnline(context.Background(), conv.ID)
	if len(online) != 1 {
		t.Fatalf("online = %+v, want the touched connection alive", online)
	}
}
