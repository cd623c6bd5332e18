package service

import (
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/security"
	log "log/slog"
)

// messageText 还原消息的可读文本。附件消息转为类型标记，解密失败以占位符兜底
func messageText(msg *mongo.Message) string {
	switch msg.MsgType {
	case mongo.MsgTypeImage:
		return "[图片]"
	case mongo.MsgTypeAudio:
		if msg.Transcript != "" {
			if plain, err := security.OpenMessage(msg.Transcript); err == nil {
				return "[语音] " + plain
			}
		}
		return "[语音]"
	}

	plain, err := security.OpenMessage(msg.Cipher)
	if err != nil {
		log.Warn("消息解密失败，转为占位符", "convID", msg.ConversationID, "seq", msg.Seq, "err", err)
		return "[消息无法解密]"
	}
	return plain
}

// senderName 按发送方身份解析称呼
func senderName(idx *NameIndex, msg *mongo.Message) string {
	switch msg.SenderRole {
	case mongo.SenderCharacter:
		return idx.CharacterName(msg.SenderID)
	case mongo.SenderSystem:
		return "系统"
	default:
		return idx.UserName(msg.SenderID)
	}
}

// buildSpeakerLines 将消息序列组装为带称呼的发言列表，已删除的消息不进入上下文。
// selfCharID 非零时，该角色的发言标记为第一人称
func buildSpeakerLines(idx *NameIndex, msgs []*mongo.Message, selfCharID uint64) []llm.SpeakerLine {
	lines := make([]llm.SpeakerLine, 0, len(msgs))
	for _, msg := range msgs {
		if msg.IsDeleted {
			continue
		}
		lines = append(lines, llm.SpeakerLine{
			Name:    senderName(idx, msg),
			IsSelf:  selfCharID != 0 && msg.SenderRole == mongo.SenderCharacter && msg.SenderID == selfCharID,
			Content: messageText(msg),
		})
	}
	return lines
}
