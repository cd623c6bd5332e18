package service

import (
	"Chorus/internal/model"
	"testing"
)

func rosterEntry(charID uint64, name string, pos int, lastReplySeq uint64) *model.ConversationCharacter {
	return &model.ConversationCharacter{
		CharacterID:  charID,
		Position:     pos,
		LastReplySeq: lastReplySeq,
		Character:    model.Character{ID: charID, Name: name},
	}
}

func TestChooseRespondersEmptyRoster(t *testing.T) {
	if got := ChooseResponders("你好", nil); got != nil {
		t.Fatalf("got %v, want nil for empty roster", got)
	}
}

func TestChooseRespondersSingleCharacter(t *testing.T) {
	roster := []*model.ConversationCharacter{rosterEntry(7, "阿尔法", 0, 0)}
	got := ChooseResponders("随便说点什么", roster)
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("got %v, want [7]", got)
	}
}

func TestChooseRespondersMostRecentSpeaker(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "阿尔法", 0, 3),
		rosterEntry(2, "贝塔", 1, 9),
		rosterEntry(3, "伽马", 2, 5),
	}
	got := ChooseResponders("没有点名", roster)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v, want [2] (last speaker at seq 9)", got)
	}
}

// 平局时靠名单顺位裁决，不引入随机
func TestChooseRespondersTieBreaksByPosition(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "阿尔法", 0, 4),
		rosterEntry(2, "贝塔", 1, 4),
	}
	for i := 0; i < 10; i++ {
		got := ChooseResponders("继续", roster)
		if len(got) != 1 || got[0] != 1 {
			t.Fatalf("run %d: got %v, want [1] every time", i, got)
		}
	}
}

func TestChooseRespondersFreshRosterPicksFirst(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(5, "阿尔法", 0, 0),
		rosterEntry(6, "贝塔", 1, 0),
	}
	got := ChooseResponders("大家好", roster)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("got %v, want [5] (roster head opens)", got)
	}
}

func TestChooseRespondersMentionBeatsRecency(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "阿尔法", 0, 1),
		rosterEntry(2, "贝塔", 1, 99),
	}
	got := ChooseResponders("@阿尔法 你怎么看", roster)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want mentioned [1]", got)
	}
}

func TestChooseRespondersMultiMentionRosterOrder(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "阿尔法", 0, 0),
		rosterEntry(2, "贝塔", 1, 0),
		rosterEntry(3, "伽马", 2, 0),
	}
	got := ChooseResponders("@伽马 和 @阿尔法 都说说", roster)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("got %v, want [1 3] in roster order", got)
	}
}

// 长名优先：@小明月 不能命中短名 小明
func TestChooseRespondersLongestNameWins(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "小明", 0, 0),
		rosterEntry(2, "小明月", 1, 0),
	}
	got := ChooseResponders("@小明月 在吗", roster)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v, want only [2]", got)
	}

	got = ChooseResponders("@小明 在吗", roster)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want only [1]", got)
	}
}

func TestChooseRespondersUnknownMentionFallsBack(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "阿尔法", 0, 2),
		rosterEntry(2, "贝塔", 1, 8),
	}
	// @ 了名单之外的名字，退回最近开口者
	got := ChooseResponders("@路人甲 你好", roster)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v, want fallback [2]", got)
	}
}

func TestChooseRespondersSameMentionTwice(t *testing.T) {
	roster := []*model.ConversationCharacter{
		rosterEntry(1, "阿尔法", 0, 0),
		rosterEntry(2, "贝塔", 1, 0),
	}
	got := ChooseResponders("@阿尔法 @阿尔法 别装听不见", roster)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want deduplicated [1]", got)
	}
}
