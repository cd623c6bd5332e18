package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/minio"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/repository"
	"context"
	"errors"
	"time"

	"github.com/jinzhu/copier"
	mongoDB "go.mongodb.org/mongo-driver/mongo"
)

type NoticeService interface {
	GetNoticeList(ctx context.Context, userID uint64, page, pageSize int) ([]*dto.NoticeDTO, error)
	GetUnreadCount(ctx context.Context, userID uint64) (*dto.NoticeUnreadDTO, error)
	MarkRead(ctx context.Context, userID uint64, noticeID string) error
	MarkAllRead(ctx context.Context, userID uint64) error
}

type noticeServiceImpl struct {
	noticeRepo mongo.NoticeRepo
	userRepo   repository.UserRepo
}

func NewNoticeService(notice mongo.NoticeRepo, user repository.UserRepo) NoticeService {
	return &noticeServiceImpl{
		noticeRepo: notice,
		userRepo:   user,
	}
}

// GetNoticeList 获取通知列表并补全发送者信息
func (s *noticeServiceImpl) GetNoticeList(ctx context.Context, userID uint64, page, pageSize int) ([]*dto.NoticeDTO, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 20
	}
	limit := int64(pageSize)
	offset := int64((page - 1) * pageSize)

	list, err := s.noticeRepo.GetNoticeList(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	// 批量取一次发送者资料
	senderIDs := make([]uint64, 0, len(list))
	seen := make(map[uint64]bool)
	for _, m := range list {
		if m.SenderID > 0 && !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	senders := make(map[uint64]*dto.NoticeDTO, len(senderIDs))
	if len(senderIDs) > 0 {
		details, err := s.userRepo.GetUserSimpleInfoByIds(ctx, senderIDs)
		if err == nil {
			for _, u := range details {
				senders[u.UserID] = &dto.NoticeDTO{
					SenderName: u.Nickname,
					AvatarURL:  minio.GetPublicURL(u.AvatarURL),
				}
			}
		}
	}

	res := make([]*dto.NoticeDTO, 0, len(list))
	for _, m := range list {
		d := &dto.NoticeDTO{}
		_ = copier.Copy(d, m)
		d.ID = m.ID.Hex()
		d.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)

		if info, ok := senders[m.SenderID]; m.SenderID > 0 && ok {
			d.SenderName = info.SenderName
			d.AvatarURL = info.AvatarURL
		} else if m.SenderID == 0 {
			d.SenderName = "系统通知"
		}
		res = append(res, d)
	}
	return res, nil
}

// GetUnreadCount 获取未读数
func (s *noticeServiceImpl) GetUnreadCount(ctx context.Context, userID uint64) (*dto.NoticeUnreadDTO, error) {
	count, err := s.noticeRepo.GetUnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.NoticeUnreadDTO{UnreadCount: count}, nil
}

// MarkRead 标记单条已读，查询条件已限定接收者本人
func (s *noticeServiceImpl) MarkRead(ctx context.Context, userID uint64, noticeID string) error {
	err := s.noticeRepo.MarkAsRead(ctx, userID, noticeID)
	if err != nil {
		if errors.Is(err, mongoDB.ErrNoDocuments) {
			return ErrNoticeNotFound
		}
		if errors.Is(err, mongoDB.ErrInvalidIndexValue) {
			return ErrParamInvalid
		}
		return err
	}
	return nil
}

// MarkAllRead 一键已读
func (s *noticeServiceImpl) MarkAllRead(ctx context.Context, userID uint64) error {
	return s.noticeRepo.MarkAllAsRead(ctx, userID)
}
