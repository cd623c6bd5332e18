package repository

import (
	"Chorus/internal/model"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConversationFull 原子容量检查失败时由 AddMember 返回
var ErrConversationFull = errors.New("会话成员已达上限")

type ConversationRepo interface {
	CreateConversation(ctx context.Context, conv *model.Conversation, members []*model.ConversationMember, characters []*model.ConversationCharacter) error
	GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error)
	GetConversationByKey(ctx context.Context, convKey string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, convID uint64, updates map[string]interface{}) error

	GetMember(ctx context.Context, convID uint64, userID uint64) (*model.ConversationMember, error)
	ListMembers(ctx context.Context, convID uint64) ([]*model.ConversationMember, error)
	CountMembers(ctx context.Context, convID uint64) (int64, error)
	AddMember(ctx context.Context, m *model.ConversationMember) error
	RemoveMember(ctx context.Context, convID, userID uint64) error
	UpdateMember(ctx context.Context, convID, userID uint64, updates map[string]interface{}) error
	TransferOwnership(ctx context.Context, convID, fromUserID, toUserID uint64) error

	ListCharacters(ctx context.Context, convID uint64) ([]*model.ConversationCharacter, error)
	AddCharacter(ctx context.Context, cc *model.ConversationCharacter) error
	RemoveCharacter(ctx context.Context, convID, characterID uint64) error
	SetCharacterReplySeq(ctx context.Context, convID, characterID, seq uint64) error

	UpdateReadSeq(ctx context.Context, convID, userID, seq uint64) error
	IncrMaxSeq(ctx context.Context, convID uint64, lastMsg string, msgType int8, senderID uint64) (uint64, error)

	TryBeginCompress(ctx context.Context, convID uint64) (bool, error)
	FinishCompress(ctx context.Context, convID, endSeq uint64) error
	FailCompress(ctx context.Context, convID uint64) error

	GetUserConversationMemList(ctx context.Context, userID uint64) ([]*model.ConversationMember, error)
	GetConvPeersReadSeq(ctx context.Context, convIDs []uint64, peerIDs []uint64) (map[uint64]uint64, error)
	GetTotalUnreadCount(ctx context.Context, userID uint64) (int64, error)
	ListFailedCompressConvIDs(ctx context.Context, threshold int64) ([]uint64, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// CreateConversation 开启事务创建会话、初始成员与角色名单
func (s *conversationRepoImpl) CreateConversation(ctx context.Context, conv *model.Conversation, members []*model.ConversationMember, characters []*model.ConversationCharacter) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, m := range members {
			m.ConversationID = conv.ID
			m.JoinedAt = time.Now()
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		for i, cc := range characters {
			cc.ConversationID = conv.ID
			cc.Position = i
			if err := tx.Create(cc).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation 根据会话 ID 获取会话
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// GetConversationByKey 根据会话标识获取会话
func (s *conversationRepoImpl) GetConversationByKey(ctx context.Context, convKey string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("conv_key = ?", convKey).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// UpdateConversation 更新会话属性
func (s *conversationRepoImpl) UpdateConversation(ctx context.Context, convID uint64, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).Updates(updates).Error
}

// GetMember 获取成员记录，不存在时返回 nil
func (s *conversationRepoImpl) GetMember(ctx context.Context, convID uint64, userID uint64) (*model.ConversationMember, error) {
	var m model.ConversationMember
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListMembers 按加入时间列出会话全部成员
func (s *conversationRepoImpl) ListMembers(ctx context.Context, convID uint64) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("joined_at ASC, id ASC").
		Find(&members).Error
	return members, err
}

// CountMembers 统计成员数
func (s *conversationRepoImpl) CountMembers(ctx context.Context, convID uint64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ?", convID).
		Count(&count).Error
	return count, err
}

// AddMember 入会。锁会话行做原子容量检查，满员返回 ErrConversationFull
func (s *conversationRepoImpl) AddMember(ctx context.Context, m *model.ConversationMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, m.ConversationID).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ?", m.ConversationID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(conv.MaxUsers) {
			return ErrConversationFull
		}
		m.JoinedAt = time.Now()
		return tx.Create(m).Error
	})
}

// RemoveMember 移除成员
func (s *conversationRepoImpl) RemoveMember(ctx context.Context, convID, userID uint64) error {
	return s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Delete(&model.ConversationMember{}).Error
}

// UpdateMember 更新成员角色或权限位
func (s *conversationRepoImpl) UpdateMember(ctx context.Context, convID, userID uint64, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Updates(updates).Error
}

// TransferOwnership 事务内交接所有权：原拥有者降为管理员，新拥有者接管
func (s *conversationRepoImpl) TransferOwnership(ctx context.Context, convID, fromUserID, toUserID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target model.ConversationMember
		if err := tx.Where("conversation_id = ? AND user_id = ?", convID, toUserID).
			First(&target).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_id = ?", convID, fromUserID).
			Updates(map[string]interface{}{"role": model.ConvRoleModerator}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_id = ?", convID, toUserID).
			Updates(map[string]interface{}{"role": model.ConvRoleOwner, "can_write": 1, "can_invite": 1}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", convID).
			Update("owner_id", toUserID).Error
	})
}

// ListCharacters 按名单顺序列出会话角色
func (s *conversationRepoImpl) ListCharacters(ctx context.Context, convID uint64) ([]*model.ConversationCharacter, error) {
	var list []*model.ConversationCharacter
	err := s.db.WithContext(ctx).
		Preload("Character").
		Where("conversation_id = ?", convID).
		Order("position ASC, id ASC").
		Find(&list).Error
	return list, err
}

// AddCharacter 角色入驻，顺位排在名单末尾
func (s *conversationRepoImpl) AddCharacter(ctx context.Context, cc *model.ConversationCharacter) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos struct{ P int }
		if err := tx.Model(&model.ConversationCharacter{}).
			Select("COALESCE(MAX(position), -1) AS p").
			Where("conversation_id = ?", cc.ConversationID).
			Scan(&maxPos).Error; err != nil {
			return err
		}
		cc.Position = maxPos.P + 1
		return tx.Create(cc).Error
	})
}

// RemoveCharacter 角色退场
func (s *conversationRepoImpl) RemoveCharacter(ctx context.Context, convID, characterID uint64) error {
	return s.db.WithContext(ctx).
		Where("conversation_id = ? AND character_id = ?", convID, characterID).
		Delete(&model.ConversationCharacter{}).Error
}

// SetCharacterReplySeq 记录角色最近一次回复位置，供回复策略裁决
func (s *conversationRepoImpl) SetCharacterReplySeq(ctx context.Context, convID, characterID, seq uint64) error {
	return s.db.WithContext(ctx).Model(&model.ConversationCharacter{}).
		Where("conversation_id = ? AND character_id = ?", convID, characterID).
		Update("last_reply_seq", seq).Error
}

// UpdateReadSeq 更新用户已读进度 (已读回执)
func (s *conversationRepoImpl) UpdateReadSeq(ctx context.Context, convID, userID, seq uint64) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("read_msg_seq", seq).Error
}

// IncrMaxSeq 核心定序逻辑：利用 MySQL 行锁确保 Seq 绝对递增
func (s *conversationRepoImpl) IncrMaxSeq(ctx context.Context, convID uint64, lastMsg string, msgType int8, senderID uint64) (uint64, error) {
	var maxSeq uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 原子更新序列号与预览信息
		err := tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Updates(map[string]interface{}{
				"max_msg_seq":      gorm.Expr("max_msg_seq + 1"),
				"last_msg_content": lastMsg,
				"last_msg_type":    msgType,
				"last_sender_id":   senderID,
				"last_message_at":  time.Now(),
			}).Error
		if err != nil {
			return err
		}
		// 唤醒所有成员会话可见性 (用于“删除会话”后的自动浮现)
		tx.Model(&model.ConversationMember{}).Where("conversation_id = ?", convID).Update("is_visible", 1)

		// 读取并返回自增后的最新 Seq
		return tx.Model(&model.Conversation{}).Select("max_msg_seq").Where("id = ?", convID).Scan(&maxSeq).Error
	})
	return maxSeq, err
}

// TryBeginCompress 记忆状态机入口：空闲或失败态才允许进入压缩，抢到行的调用者返回 true
func (s *conversationRepoImpl) TryBeginCompress(ctx context.Context, convID uint64) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND memory_state IN ?", convID, []int8{model.MemoryStateIdle, model.MemoryStateFailed}).
		Update("memory_state", model.MemoryStateCompressing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FinishCompress 压缩成功，推进记忆水位并回到空闲态
func (s *conversationRepoImpl) FinishCompress(ctx context.Context, convID, endSeq uint64) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Updates(map[string]interface{}{
			"last_memory_seq": endSeq,
			"memory_state":    model.MemoryStateIdle,
		}).Error
}

// FailCompress 压缩终败，置失败态等待下次阈值触发
func (s *conversationRepoImpl) FailCompress(ctx context.Context, convID uint64) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Update("memory_state", model.MemoryStateFailed).Error
}

// GetUserConversationMemList 联表查询，利用嵌套 Model 自动装配
func (s *conversationRepoImpl) GetUserConversationMemList(ctx context.Context, userID uint64) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	// 使用 Conversation__ 别名配合 GORM 的嵌套填充特性
	err := s.db.WithContext(ctx).Table("conversation_members m").
		Select("m.*, "+
			"c.id AS `Conversation__id`, c.type AS `Conversation__type`, "+
			"c.conv_key AS `Conversation__conv_key`, "+
			"c.title AS `Conversation__title`, "+
			"c.owner_id AS `Conversation__owner_id`, "+
			"c.is_multi_user AS `Conversation__is_multi_user`, "+
			"c.max_msg_seq AS `Conversation__max_msg_seq`, "+
			"c.last_msg_content AS `Conversation__last_msg_content`, "+
			"c.last_msg_type AS `Conversation__last_msg_type`, "+
			"c.last_sender_id AS `Conversation__last_sender_id`, "+
			"c.last_message_at AS `Conversation__last_message_at`, "+
			"(c.max_msg_seq - m.read_msg_seq) AS unread_count").
		Joins("JOIN conversations c ON m.conversation_id = c.id").
		Where("m.user_id = ? AND m.is_visible = 1", userID).
		Order("m.is_pinned DESC, c.last_message_at DESC").
		Find(&members).Error
	return members, err
}

// GetConvPeersReadSeq 批量获取指定会话中对方的已读进度
func (s *conversationRepoImpl) GetConvPeersReadSeq(ctx context.Context, convIDs []uint64, peerIDs []uint64) (map[uint64]uint64, error) {
	type Result struct {
		ConversationID uint64
		ReadMsgSeq     uint64
	}
	var results []Result
	// 查询条件：会话在列表内，且用户是我们的对手 ID 列表
	err := s.db.WithContext(ctx).Table("conversation_members").
		Select("conversation_id, read_msg_seq").
		Where("conversation_id IN ? AND user_id IN ?", convIDs, peerIDs).
		Find(&results).Error

	if err != nil {
		return nil, err
	}

	resMap := make(map[uint64]uint64)
	for _, r := range results {
		resMap[r.ConversationID] = r.ReadMsgSeq
	}
	return resMap, nil
}

// GetTotalUnreadCount 计算全局未读数
func (s *conversationRepoImpl) GetTotalUnreadCount(ctx context.Context, userID uint64) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Table("conversation_members m").
		Joins("JOIN conversations c ON m.conversation_id = c.id").
		Where("m.user_id = ?", userID).
		Select("SUM(CASE WHEN c.max_msg_seq > m.read_msg_seq THEN c.max_msg_seq - m.read_msg_seq ELSE 0 END)").
		Scan(&total).Error
	return total, err
}

// ListFailedCompressConvIDs 捞出失败态且积压已再次越过阈值的会话，供重试任务扫描
func (s *conversationRepoImpl) ListFailedCompressConvIDs(ctx context.Context, threshold int64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("memory_state = ? AND max_msg_seq - last_memory_seq >= ?", model.MemoryStateFailed, threshold).
		Pluck("id", &ids).Error
	return ids, err
}
