package service

import (
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/security"
	"testing"
)

func testNameIndex() *NameIndex {
	return &NameIndex{
		Users:      map[uint64]string{1: "小明"},
		Characters: map[uint64]string{100: "阿尔法"},
	}
}

func sealedOrDie(t *testing.T, plain string) string {
	t.Helper()
	cipher, err := security.SealMessage(plain)
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	return cipher
}

func TestMessageTextText(t *testing.T) {
	msg := &mongo.Message{MsgType: mongo.MsgTypeText, Cipher: sealedOrDie(t, "今晚吃什么")}
	if got := messageText(msg); got != "今晚吃什么" {
		t.Fatalf("got %q", got)
	}
}

func TestMessageTextPlaceholders(t *testing.T) {
	img := &mongo.Message{MsgType: mongo.MsgTypeImage}
	if got := messageText(img); got != "[图片]" {
		t.Fatalf("image: got %q", got)
	}

	audio := &mongo.Message{MsgType: mongo.MsgTypeAudio}
	if got := messageText(audio); got != "[语音]" {
		t.Fatalf("audio without transcript: got %q", got)
	}

	audio.Transcript = sealedOrDie(t, "帮我记个事")
	if got := messageText(audio); got != "[语音] 帮我记个事" {
		t.Fatalf("audio with transcript: got %q", got)
	}
}

func TestMessageTextUndecryptable(t *testing.T) {
	msg := &mongo.Message{MsgType: mongo.MsgTypeText, Cipher: "不是合法密文"}
	if got := messageText(msg); got != "[消息无法解密]" {
		t.Fatalf("got %q", got)
	}
}

func TestSenderNameByRole(t *testing.T) {
	idx := testNameIndex()

	human := &mongo.Message{SenderRole: mongo.SenderHuman, SenderID: 1}
	if got := senderName(idx, human); got != "小明" {
		t.Fatalf("human: got %q", got)
	}
	char := &mongo.Message{SenderRole: mongo.SenderCharacter, SenderID: 100}
	if got := senderName(idx, char); got != "阿尔法" {
		t.Fatalf("character: got %q", got)
	}
	system := &mongo.Message{SenderRole: mongo.SenderSystem}
	if got := senderName(idx, system); got != "系统" {
		t.Fatalf("system: got %q", got)
	}
	stranger := &mongo.Message{SenderRole: mongo.SenderHuman, SenderID: 404}
	if got := senderName(idx, stranger); got != "用户404" {
		t.Fatalf("unknown user: got %q", got)
	}
}

func TestBuildSpeakerLinesSkipsDeletedAndMarksSelf(t *testing.T) {
	idx := testNameIndex()
	msgs := []*mongo.Message{
		{SenderRole: mongo.SenderHuman, SenderID: 1, MsgType: mongo.MsgTypeText, Cipher: sealedOrDie(t, "第一句"), Seq: 1},
		{SenderRole: mongo.SenderHuman, SenderID: 1, MsgType: mongo.MsgTypeText, Cipher: sealedOrDie(t, "删掉的"), Seq: 2, IsDeleted: true},
		{SenderRole: mongo.SenderCharacter, SenderID: 100, MsgType: mongo.MsgTypeText, Cipher: sealedOrDie(t, "我的旧回复"), Seq: 3},
	}

	lines := buildSpeakerLines(idx, msgs, 100)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want deleted message dropped", len(lines))
	}
	if lines[0].Name != "小明" || lines[0].IsSelf || lines[0].Content != "第一句" {
		t.Fatalf("line 0 = %+v", lines[0])
	}
	if lines[1].Name != "阿尔法" || !lines[1].IsSelf || lines[1].Content != "我的旧回复" {
		t.Fatalf("line 1 = %+v", lines[1])
	}

	// 换一个应答角色视角，刚才的第一人称消失
	lines = buildSpeakerLines(idx, msgs, 0)
	if lines[1].IsSelf {
		t.Fatalf("selfCharID 0 must not mark anyone as self")
	}
}
