package service

import (
	"Chorus/internal/model"
	"sort"
	"strings"
)

// ChooseResponders 决定哪些角色回应这条消息，结果与输入严格一一对应，不掺随机。
// 优先级：@点名 > 单角色直接接话 > 多角色时由最近开口的角色接话，
// 全员都没发过言则由名单首位开场
func ChooseResponders(content string, roster []*model.ConversationCharacter) []uint64 {
	if len(roster) == 0 {
		return nil
	}

	if mentioned := matchMentions(content, roster); len(mentioned) > 0 {
		return mentioned
	}

	if len(roster) == 1 {
		return []uint64{roster[0].CharacterID}
	}

	best := roster[0]
	for _, cc := range roster[1:] {
		if cc.LastReplySeq > best.LastReplySeq {
			best = cc
		}
	}
	return []uint64{best.CharacterID}
}

// matchMentions 解析 @角色名。名字长的先匹配并消耗命中的片段，
// 防止短名吃掉长名的前缀（@小明月 不应命中 小明）。
// 被点名的角色按名单顺位排列
func matchMentions(content string, roster []*model.ConversationCharacter) []uint64 {
	if !strings.Contains(content, "@") {
		return nil
	}

	ordered := make([]*model.ConversationCharacter, len(roster))
	copy(ordered, roster)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Character.Name) > len(ordered[j].Character.Name)
	})

	hit := make(map[uint64]bool)
	remain := content
	for _, cc := range ordered {
		name := cc.Character.Name
		if name == "" {
			continue
		}
		tag := "@" + name
		if strings.Contains(remain, tag) {
			hit[cc.CharacterID] = true
			remain = strings.ReplaceAll(remain, tag, "")
		}
	}
	if len(hit) == 0 {
		return nil
	}

	result := make([]uint64, 0, len(hit))
	for _, cc := range roster {
		if hit[cc.CharacterID] {
			result = append(result, cc.CharacterID)
		}
	}
	return result
}
