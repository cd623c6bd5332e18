package service

import (
	"Chorus/internal/model"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/security"
	"context"
	"errors"
	"testing"
	"time"
)

type memoryFixture struct {
	convRepo   *fakeConvRepo
	userRepo   *fakeUserRepo
	msgRepo    *fakeMessageRepo
	memRepo    *fakeMemoryRepo
	summarizer *fakeSummarizer
	bus        *recordingBroadcaster
	svc        MemoryService
}

func newMemoryFixture() *memoryFixture {
	f := &memoryFixture{
		convRepo:   newFakeConvRepo(),
		userRepo:   newFakeUserRepo(),
		msgRepo:    newFakeMessageRepo(),
		memRepo:    newFakeMemoryRepo(),
		summarizer: &fakeSummarizer{},
		bus:        &recordingBroadcaster{},
	}
	f.svc = NewMemoryService(f.convRepo, f.userRepo, f.msgRepo, f.memRepo, f.summarizer, f.bus)
	return f
}

func (f *memoryFixture) seedConv(maxSeq, lastMemorySeq uint64, state int8) *model.Conversation {
	conv := f.convRepo.seedConv(&model.Conversation{
		IsMultiUser:   1,
		OwnerID:       1,
		MaxMsgSeq:     maxSeq,
		LastMemorySeq: lastMemorySeq,
		MemoryState:   state,
	})
	f.convRepo.seedMember(conv.ID, 1, model.ConvRoleOwner, 1)
	f.userRepo.seedUser(1, "小明")
	return conv
}

func (f *memoryFixture) seedSealedMessage(convID, seq uint64, text string) {
	cipher, err := security.SealMessage(text)
	if err != nil {
		panic(err)
	}
	f.msgRepo.seed(&mongo.Message{
		ConversationID: convID,
		SenderRole:     mongo.SenderHuman,
		SenderID:       1,
		MsgType:        mongo.MsgTypeText,
		Cipher:         cipher,
		Seq:            seq,
		CreatedAt:      time.Now(),
	})
}

func TestShouldCompressThreshold(t *testing.T) {
	f := newMemoryFixture()
	threshold := memoryThreshold()

	below := &model.Conversation{MaxMsgSeq: threshold - 1, LastMemorySeq: 0}
	if f.svc.ShouldCompress(below) {
		t.Fatalf("backlog %d should not trigger compression", threshold-1)
	}

	at := &model.Conversation{MaxMsgSeq: threshold, LastMemorySeq: 0}
	if !f.svc.ShouldCompress(at) {
		t.Fatalf("backlog %d should trigger compression", threshold)
	}

	busy := &model.Conversation{MaxMsgSeq: threshold * 2, MemoryState: model.MemoryStateCompressing}
	if f.svc.ShouldCompress(busy) {
		t.Fatalf("in-flight compression must not retrigger")
	}
}

func TestCompressHappyPath(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(6, 0, model.MemoryStateIdle)
	for seq := uint64(1); seq <= 6; seq++ {
		f.seedSealedMessage(conv.ID, seq, "发言内容")
	}

	if err := f.svc.Compress(context.Background(), conv.ID, 6); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	got, _ := f.convRepo.GetConversation(context.Background(), conv.ID)
	if got.LastMemorySeq != 6 || got.MemoryState != model.MemoryStateIdle {
		t.Fatalf("watermark = %d state = %d, want 6/idle", got.LastMemorySeq, got.MemoryState)
	}
	if f.memRepo.count(conv.ID) != 1 {
		t.Fatalf("memories = %d, want 1", f.memRepo.count(conv.ID))
	}
	mem, _ := f.memRepo.GetLatest(context.Background(), conv.ID)
	if mem.StartSeq != 1 || mem.EndSeq != 6 || mem.MessageCount != 6 {
		t.Fatalf("memory range = [%d,%d] count = %d, want [1,6]/6", mem.StartSeq, mem.EndSeq, mem.MessageCount)
	}
	if f.bus.countByType(hub.EventMemoryStarted) != 1 || f.bus.countByType(hub.EventMemoryDone) != 1 {
		t.Fatalf("events: started=%d done=%d, want 1/1",
			f.bus.countByType(hub.EventMemoryStarted), f.bus.countByType(hub.EventMemoryDone))
	}
}

func TestCompressSummarizerSeesDecryptedLines(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(2, 0, model.MemoryStateIdle)
	f.seedSealedMessage(conv.ID, 1, "今天天气不错")
	f.seedSealedMessage(conv.ID, 2, "是啊，出去走走")

	if err := f.svc.Compress(context.Background(), conv.ID, 2); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if f.summarizer.calls() != 1 {
		t.Fatalf("summarizer calls = %d, want 1", f.summarizer.calls())
	}
	req := f.summarizer.reqs[0]
	if len(req.Lines) != 2 || req.Lines[0].Content != "今天天气不错" || req.Lines[0].Name != "小明" {
		t.Fatalf("lines = %+v, want decrypted transcript with speaker names", req.Lines)
	}
}

func TestCompressConflictWhenAlreadyRunning(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(10, 0, model.MemoryStateCompressing)

	err := f.svc.Compress(context.Background(), conv.ID, 10)
	if !errors.Is(err, ErrCompressionConflict) {
		t.Fatalf("err = %v, want ErrCompressionConflict", err)
	}
	if f.summarizer.calls() != 0 {
		t.Fatalf("summarizer must not run on conflict")
	}
}

// 水位落后但记忆早已覆盖目标区间：只修正水位，不重复压缩
func TestCompressSkipsWhenRangeAlreadyCovered(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(6, 0, model.MemoryStateIdle)
	_ = f.memRepo.SaveMemory(context.Background(), &mongo.ConversationMemory{
		ConversationID: conv.ID,
		StartSeq:       1,
		EndSeq:         6,
		Summary:        "已有记忆",
	})

	if err := f.svc.Compress(context.Background(), conv.ID, 6); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if f.summarizer.calls() != 0 {
		t.Fatalf("summarizer calls = %d, want 0", f.summarizer.calls())
	}
	if f.memRepo.count(conv.ID) != 1 {
		t.Fatalf("memories = %d, want the original one only", f.memRepo.count(conv.ID))
	}
	got, _ := f.convRepo.GetConversation(context.Background(), conv.ID)
	if got.LastMemorySeq != 6 || got.MemoryState != model.MemoryStateIdle {
		t.Fatalf("watermark = %d state = %d, want corrected to 6/idle", got.LastMemorySeq, got.MemoryState)
	}
}

// 已有记忆覆盖了前半段时，起点顺延到记忆之后
func TestCompressResumesAfterExistingMemory(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(6, 0, model.MemoryStateIdle)
	for seq := uint64(1); seq <= 6; seq++ {
		f.seedSealedMessage(conv.ID, seq, "发言内容")
	}
	_ = f.memRepo.SaveMemory(context.Background(), &mongo.ConversationMemory{
		ConversationID: conv.ID,
		StartSeq:       1,
		EndSeq:         3,
		Summary:        "前情提要",
	})

	if err := f.svc.Compress(context.Background(), conv.ID, 6); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	mem, _ := f.memRepo.GetLatest(context.Background(), conv.ID)
	if mem.StartSeq != 4 || mem.EndSeq != 6 {
		t.Fatalf("memory range = [%d,%d], want [4,6]", mem.StartSeq, mem.EndSeq)
	}
	if req := f.summarizer.reqs[0]; req.PrevSummary != "前情提要" {
		t.Fatalf("prev summary = %q, want carried over", req.PrevSummary)
	}
}

func TestCompressNoopBelowWatermark(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(6, 6, model.MemoryStateIdle)

	if err := f.svc.Compress(context.Background(), conv.ID, 6); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(f.bus.events) != 0 {
		t.Fatalf("events = %d, want 0", len(f.bus.events))
	}
}

func TestCompressFailureMarksFailedState(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(6, 0, model.MemoryStateIdle)
	for seq := uint64(1); seq <= 6; seq++ {
		f.seedSealedMessage(conv.ID, seq, "发言内容")
	}
	f.summarizer.summarizeFn = func(req *llm.SummaryRequest) (*llm.SummaryResult, error) {
		return nil, errors.New("模型超时")
	}

	if err := f.svc.Compress(context.Background(), conv.ID, 6); err == nil {
		t.Fatalf("Compress should surface the summarizer error")
	}

	got, _ := f.convRepo.GetConversation(context.Background(), conv.ID)
	if got.MemoryState != model.MemoryStateFailed {
		t.Fatalf("state = %d, want failed", got.MemoryState)
	}
	if got.LastMemorySeq != 0 {
		t.Fatalf("watermark moved to %d on failure, want 0", got.LastMemorySeq)
	}
	if f.bus.countByType(hub.EventMemoryFailed) != 1 {
		t.Fatalf("MEMORY_COMPRESS_FAILED events = %d, want 1", f.bus.countByType(hub.EventMemoryFailed))
	}
	if f.memRepo.count(conv.ID) != 0 {
		t.Fatalf("memories = %d, want 0 on failure", f.memRepo.count(conv.ID))
	}
}

// 区间内消息已全部删除：直接推进水位
func TestCompressAllDeletedAdvancesWatermark(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(2, 0, model.MemoryStateIdle)
	for seq := uint64(1); seq <= 2; seq++ {
		cipher, _ := security.SealMessage("已删除内容")
		f.msgRepo.seed(&mongo.Message{
			ConversationID: conv.ID,
			SenderRole:     mongo.SenderHuman,
			SenderID:       1,
			MsgType:        mongo.MsgTypeText,
			Cipher:         cipher,
			Seq:            seq,
			IsDeleted:      true,
			CreatedAt:      time.Now(),
		})
	}

	if err := f.svc.Compress(context.Background(), conv.ID, 2); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if f.summarizer.calls() != 0 {
		t.Fatalf("summarizer must not run on empty transcript")
	}
	got, _ := f.convRepo.GetConversation(context.Background(), conv.ID)
	if got.LastMemorySeq != 2 {
		t.Fatalf("watermark = %d, want 2", got.LastMemorySeq)
	}
}

func TestRetryFailedRestartsEligibleConversations(t *testing.T) {
	f := newMemoryFixture()
	threshold := memoryThreshold()

	// 失败且积压超阈值，应被重试
	eligible := f.seedConv(threshold+2, 0, model.MemoryStateFailed)
	for seq := uint64(1); seq <= threshold+2; seq++ {
		f.seedSealedMessage(eligible.ID, seq, "发言内容")
	}
	// 失败但积压不足，留在原地
	f.convRepo.seedConv(&model.Conversation{
		MaxMsgSeq:     1,
		LastMemorySeq: 0,
		MemoryState:   model.MemoryStateFailed,
	})

	restarted, err := f.svc.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if restarted != 1 {
		t.Fatalf("restarted = %d, want 1", restarted)
	}
	got, _ := f.convRepo.GetConversation(context.Background(), eligible.ID)
	if got.MemoryState != model.MemoryStateIdle || got.LastMemorySeq != threshold+2 {
		t.Fatalf("state = %d watermark = %d, want recovered", got.MemoryState, got.LastMemorySeq)
	}
}

func TestListMemoriesRequiresMembership(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(0, 0, model.MemoryStateIdle)

	_, err := f.svc.ListMemories(context.Background(), conv.ID, 99, 3)
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("err = %v, want ErrNotAMember", err)
	}
}

func TestListMemoriesOldestFirst(t *testing.T) {
	f := newMemoryFixture()
	conv := f.seedConv(0, 0, model.MemoryStateIdle)
	_ = f.memRepo.SaveMemory(context.Background(), &mongo.ConversationMemory{ConversationID: conv.ID, StartSeq: 7, EndSeq: 12})
	_ = f.memRepo.SaveMemory(context.Background(), &mongo.ConversationMemory{ConversationID: conv.ID, StartSeq: 1, EndSeq: 6})

	mems, err := f.svc.ListMemories(context.Background(), conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(mems) != 2 || mems[0].StartSeq != 1 || mems[1].StartSeq != 7 {
		t.Fatalf("memories order = %+v, want oldest first", mems)
	}
}
