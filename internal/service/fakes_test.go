package service

import (
	"Chorus/internal/api/config"
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/billing"
	"Chorus/internal/pkg/es"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/kafka"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/pkg/security"
	"Chorus/internal/repository"
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	goredis "github.com/redis/go-redis/v9"
)

// TestMain 补齐服务层依赖的进程级初始化：配置、消息加密器、
// 以及一个指向不可达地址的 redis 客户端（用量计数路径容错降级，不中断主流程）
func TestMain(m *testing.M) {
	config.Cfg = &config.Config{}
	config.Cfg.Chat.MaxAttempts = 1
	config.Cfg.Chat.RetryBackoff = 1
	config.Cfg.Chat.GenerateTimeout = 5
	config.Cfg.Chat.MemoryThreshold = 5

	if err := security.InitCipher("unit-test-secret"); err != nil {
		panic(err)
	}
	redis.Rdb = goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})

	os.Exit(m.Run())
}

// ---- 会话仓储 ----

type fakeConvRepo struct {
	mu         sync.Mutex
	convs      map[uint64]*model.Conversation
	members    map[uint64]map[uint64]*model.ConversationMember
	characters map[uint64][]*model.ConversationCharacter
	nextID     uint64

	// 模拟并发入会撞唯一索引
	duplicateOnAdd bool
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		convs:      make(map[uint64]*model.Conversation),
		members:    make(map[uint64]map[uint64]*model.ConversationMember),
		characters: make(map[uint64][]*model.ConversationCharacter),
		nextID:     1,
	}
}

func (f *fakeConvRepo) seedConv(conv *model.Conversation) *model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv.ID == 0 {
		conv.ID = f.nextID
		f.nextID++
	}
	if conv.MaxUsers == 0 {
		conv.MaxUsers = 8
	}
	f.convs[conv.ID] = conv
	if f.members[conv.ID] == nil {
		f.members[conv.ID] = make(map[uint64]*model.ConversationMember)
	}
	return conv
}

func (f *fakeConvRepo) seedMember(convID, userID uint64, role int8, canWrite int8) *model.ConversationMember {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &model.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		CanWrite:       canWrite,
		JoinedAt:       time.Now(),
	}
	if f.members[convID] == nil {
		f.members[convID] = make(map[uint64]*model.ConversationMember)
	}
	f.members[convID][userID] = m
	return m
}

func (f *fakeConvRepo) seedCharacter(convID uint64, ch *model.Character, lastReplySeq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.characters[convID] = append(f.characters[convID], &model.ConversationCharacter{
		ConversationID: convID,
		CharacterID:    ch.ID,
		Position:       len(f.characters[convID]),
		LastReplySeq:   lastReplySeq,
		Character:      *ch,
	})
}

func (f *fakeConvRepo) CreateConversation(_ context.Context, conv *model.Conversation, members []*model.ConversationMember, characters []*model.ConversationCharacter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv.ID = f.nextID
	f.nextID++
	f.convs[conv.ID] = conv
	f.members[conv.ID] = make(map[uint64]*model.ConversationMember)
	for _, m := range members {
		m.ConversationID = conv.ID
		m.JoinedAt = time.Now()
		f.members[conv.ID][m.UserID] = m
	}
	for i, cc := range characters {
		cc.ConversationID = conv.ID
		cc.Position = i
		f.characters[conv.ID] = append(f.characters[conv.ID], cc)
	}
	return nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok {
		return nil, nil
	}
	cp := *conv
	return &cp, nil
}

func (f *fakeConvRepo) GetConversationByKey(_ context.Context, convKey string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.ConvKey == convKey {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeConvRepo) UpdateConversation(_ context.Context, convID uint64, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok {
		return nil
	}
	if v, ok := updates["is_multi_user"]; ok {
		conv.IsMultiUser = toInt8(v)
	}
	if v, ok := updates["max_users"]; ok {
		conv.MaxUsers = toInt(v)
	}
	if v, ok := updates["title"]; ok {
		conv.Title = v.(string)
	}
	return nil
}

func (f *fakeConvRepo) GetMember(_ context.Context, convID, userID uint64) (*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[convID][userID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeConvRepo) ListMembers(_ context.Context, convID uint64) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.ConversationMember
	for _, m := range f.members[convID] {
		cp := *m
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

func (f *fakeConvRepo) CountMembers(_ context.Context, convID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.members[convID])), nil
}

func (f *fakeConvRepo) AddMember(_ context.Context, m *model.ConversationMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.duplicateOnAdd {
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	}
	conv, ok := f.convs[m.ConversationID]
	if !ok {
		return nil
	}
	if len(f.members[m.ConversationID]) >= conv.MaxUsers {
		return repository.ErrConversationFull
	}
	if _, exists := f.members[m.ConversationID][m.UserID]; exists {
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	}
	m.JoinedAt = time.Now()
	f.members[m.ConversationID][m.UserID] = m
	return nil
}

func (f *fakeConvRepo) RemoveMember(_ context.Context, convID, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[convID], userID)
	return nil
}

func (f *fakeConvRepo) UpdateMember(_ context.Context, convID, userID uint64, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[convID][userID]
	if !ok {
		return nil
	}
	if v, ok := updates["role"]; ok {
		m.Role = toInt8(v)
	}
	if v, ok := updates["can_write"]; ok {
		m.CanWrite = toInt8(v)
	}
	if v, ok := updates["can_invite"]; ok {
		m.CanInvite = toInt8(v)
	}
	return nil
}

func (f *fakeConvRepo) TransferOwnership(_ context.Context, convID, fromUserID, toUserID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, ok1 := f.members[convID][fromUserID]
	to, ok2 := f.members[convID][toUserID]
	if !ok1 || !ok2 {
		return nil
	}
	from.Role = model.ConvRoleModerator
	to.Role = model.ConvRoleOwner
	if conv, ok := f.convs[convID]; ok {
		conv.OwnerID = toUserID
	}
	return nil
}

func (f *fakeConvRepo) ListCharacters(_ context.Context, convID uint64) ([]*model.ConversationCharacter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]*model.ConversationCharacter, 0, len(f.characters[convID]))
	for _, cc := range f.characters[convID] {
		cp := *cc
		res = append(res, &cp)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Position < res[j].Position })
	return res, nil
}

func (f *fakeConvRepo) AddCharacter(_ context.Context, cc *model.ConversationCharacter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.characters[cc.ConversationID] {
		if existing.CharacterID == cc.CharacterID {
			return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
		}
	}
	cc.Position = len(f.characters[cc.ConversationID])
	f.characters[cc.ConversationID] = append(f.characters[cc.ConversationID], cc)
	return nil
}

func (f *fakeConvRepo) RemoveCharacter(_ context.Context, convID, characterID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.characters[convID]
	for i, cc := range list {
		if cc.CharacterID == characterID {
			f.characters[convID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeConvRepo) SetCharacterReplySeq(_ context.Context, convID, characterID, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cc := range f.characters[convID] {
		if cc.CharacterID == characterID {
			cc.LastReplySeq = seq
		}
	}
	return nil
}

func (f *fakeConvRepo) UpdateReadSeq(_ context.Context, convID, userID, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		m.ReadMsgSeq = seq
	}
	return nil
}

func (f *fakeConvRepo) IncrMaxSeq(_ context.Context, convID uint64, lastMsg string, msgType int8, senderID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok {
		return 0, nil
	}
	conv.MaxMsgSeq++
	conv.LastMsgContent = lastMsg
	conv.LastMsgType = msgType
	conv.LastSenderID = senderID
	conv.LastMessageAt = time.Now()
	return conv.MaxMsgSeq, nil
}

func (f *fakeConvRepo) TryBeginCompress(_ context.Context, convID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok {
		return false, nil
	}
	if conv.MemoryState == model.MemoryStateCompressing {
		return false, nil
	}
	conv.MemoryState = model.MemoryStateCompressing
	return true, nil
}

func (f *fakeConvRepo) FinishCompress(_ context.Context, convID, endSeq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[convID]; ok {
		conv.LastMemorySeq = endSeq
		conv.MemoryState = model.MemoryStateIdle
	}
	return nil
}

func (f *fakeConvRepo) FailCompress(_ context.Context, convID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[convID]; ok {
		conv.MemoryState = model.MemoryStateFailed
	}
	return nil
}

func (f *fakeConvRepo) GetUserConversationMemList(_ context.Context, userID uint64) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.ConversationMember
	for convID, members := range f.members {
		if m, ok := members[userID]; ok {
			cp := *m
			if conv, ok := f.convs[convID]; ok {
				cp.Conversation = *conv
			}
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ConversationID < res[j].ConversationID })
	return res, nil
}

func (f *fakeConvRepo) GetConvPeersReadSeq(_ context.Context, convIDs []uint64, peerIDs []uint64) (map[uint64]uint64, error) {
	return map[uint64]uint64{}, nil
}

func (f *fakeConvRepo) GetTotalUnreadCount(_ context.Context, userID uint64) (int64, error) {
	return 0, nil
}

func (f *fakeConvRepo) ListFailedCompressConvIDs(_ context.Context, threshold int64) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []uint64
	for id, conv := range f.convs {
		if conv.MemoryState == model.MemoryStateFailed && int64(conv.MaxMsgSeq-conv.LastMemorySeq) >= threshold {
			res = append(res, id)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res, nil
}

func toInt8(v interface{}) int8 {
	switch x := v.(type) {
	case int8:
		return x
	case int:
		return int8(x)
	}
	return 0
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int8:
		return int(x)
	}
	return 0
}

// ---- 用户仓储 ----

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[uint64]*model.User
	details map[uint64]*model.UserDetail
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:   make(map[uint64]*model.User),
		details: make(map[uint64]*model.UserDetail),
	}
}

func (f *fakeUserRepo) seedUser(id uint64, nickname string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &model.User{ID: id}
	f.details[id] = &model.UserDetail{UserID: id, Nickname: nickname}
}

func (f *fakeUserRepo) GetUserById(_ context.Context, id uint64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetUserByIds(_ context.Context, ids []uint64) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			cp := *u
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) GetUserSimpleInfoByIds(_ context.Context, ids []uint64) ([]*model.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.UserDetail
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			cp := *d
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (f *fakeUserRepo) SearchUserByNickname(_ context.Context, keyword string, offset, limit int) ([]*model.UserDetail, error) {
	return nil, nil
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User, detail *model.UserDetail, roles *[]*model.UserRole) error {
	return nil
}

func (f *fakeUserRepo) UpdateUser(_ context.Context, user *model.User) error { return nil }

func (f *fakeUserRepo) UpdateUserDetail(_ context.Context, detail *model.UserDetail) error {
	return nil
}

func (f *fakeUserRepo) DeleteUser(_ context.Context, id uint64) error { return nil }

// ---- 角色仓储 ----

type fakeCharacterRepo struct {
	mu    sync.Mutex
	chars map[uint64]*model.Character
}

func newFakeCharacterRepo() *fakeCharacterRepo {
	return &fakeCharacterRepo{chars: make(map[uint64]*model.Character)}
}

func (f *fakeCharacterRepo) seed(ch *model.Character) *model.Character {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chars[ch.ID] = ch
	return ch
}

func (f *fakeCharacterRepo) GetCharacterById(_ context.Context, id uint64) (*model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chars[id]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeCharacterRepo) GetCharacterByIds(_ context.Context, ids []uint64) ([]*model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.Character
	for _, id := range ids {
		if ch, ok := f.chars[id]; ok {
			cp := *ch
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (f *fakeCharacterRepo) ListByOwner(_ context.Context, ownerID uint64) ([]*model.Character, error) {
	return nil, nil
}

func (f *fakeCharacterRepo) ListPublic(_ context.Context, limit, offset int) ([]*model.Character, error) {
	return nil, nil
}

func (f *fakeCharacterRepo) CreateCharacter(_ context.Context, c *model.Character) error { return nil }
func (f *fakeCharacterRepo) UpdateCharacter(_ context.Context, c *model.Character) error { return nil }
func (f *fakeCharacterRepo) DeleteCharacter(_ context.Context, id uint64) error          { return nil }

// ---- 消息仓储 ----

type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs map[uint64]map[uint64]*mongo.Message

	saveErr error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{msgs: make(map[uint64]map[uint64]*mongo.Message)}
}

func (f *fakeMessageRepo) seed(msg *mongo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgs[msg.ConversationID] == nil {
		f.msgs[msg.ConversationID] = make(map[uint64]*mongo.Message)
	}
	f.msgs[msg.ConversationID][msg.Seq] = msg
}

func (f *fakeMessageRepo) sortedSeqs(convID uint64) []uint64 {
	seqs := make([]uint64, 0, len(f.msgs[convID]))
	for seq := range f.msgs[convID] {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.msgs[msg.ConversationID] == nil {
		f.msgs[msg.ConversationID] = make(map[uint64]*mongo.Message)
	}
	f.msgs[msg.ConversationID][msg.Seq] = msg
	return nil
}

func (f *fakeMessageRepo) GetHistory(_ context.Context, convID uint64, lastSeq uint64, pageSize int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := f.sortedSeqs(convID)
	var res []*mongo.Message
	for i := len(seqs) - 1; i >= 0 && len(res) < pageSize; i-- {
		if lastSeq > 0 && seqs[i] >= lastSeq {
			continue
		}
		res = append(res, f.msgs[convID][seqs[i]])
	}
	return res, nil
}

func (f *fakeMessageRepo) GetMessageBySeq(_ context.Context, convID uint64, seq uint64) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[convID][seq]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMessageRepo) GetRange(_ context.Context, convID uint64, fromSeq, toSeq uint64) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, seq := range f.sortedSeqs(convID) {
		if seq >= fromSeq && seq <= toSeq {
			res = append(res, f.msgs[convID][seq])
		}
	}
	return res, nil
}

func (f *fakeMessageRepo) GetRecentSince(_ context.Context, convID uint64, sinceSeq uint64, limit int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, seq := range f.sortedSeqs(convID) {
		if seq > sinceSeq {
			res = append(res, f.msgs[convID][seq])
		}
	}
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (f *fakeMessageRepo) ReplaceBody(_ context.Context, convID uint64, seq uint64, cipher string, triggerUserID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.msgs[convID][seq]; ok {
		msg.Cipher = cipher
		msg.TriggerUserID = triggerUserID
	}
	return nil
}

func (f *fakeMessageRepo) MarkDeleted(_ context.Context, convID uint64, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.msgs[convID][seq]; ok {
		msg.IsDeleted = true
	}
	return nil
}

func (f *fakeMessageRepo) MarkFlagged(_ context.Context, convID uint64, seq uint64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.msgs[convID][seq]; ok {
		msg.IsFlagged = true
		msg.FlagReason = reason
	}
	return nil
}

func (f *fakeMessageRepo) SetTranscript(_ context.Context, convID uint64, seq uint64, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.msgs[convID][seq]; ok {
		msg.Transcript = transcript
	}
	return nil
}

func (f *fakeMessageRepo) DeleteByConversation(_ context.Context, convID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.msgs, convID)
	return nil
}

// ---- 记忆仓储 ----

type fakeMemoryRepo struct {
	mu   sync.Mutex
	mems map[uint64][]*mongo.ConversationMemory

	saveErr error
}

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{mems: make(map[uint64][]*mongo.ConversationMemory)}
}

func (f *fakeMemoryRepo) SaveMemory(_ context.Context, mem *mongo.ConversationMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mems[mem.ConversationID] = append(f.mems[mem.ConversationID], mem)
	return nil
}

func (f *fakeMemoryRepo) GetLatest(_ context.Context, convID uint64) (*mongo.ConversationMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *mongo.ConversationMemory
	for _, mem := range f.mems[convID] {
		if latest == nil || mem.EndSeq > latest.EndSeq {
			latest = mem
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeMemoryRepo) GetRecent(_ context.Context, convID uint64, limit int) ([]*mongo.ConversationMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 3
	}
	list := make([]*mongo.ConversationMemory, len(f.mems[convID]))
	copy(list, f.mems[convID])
	sort.Slice(list, func(i, j int) bool { return list[i].EndSeq < list[j].EndSeq })
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

func (f *fakeMemoryRepo) DeleteByConversation(_ context.Context, convID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mems, convID)
	return nil
}

func (f *fakeMemoryRepo) count(convID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mems[convID])
}

// ---- 系统通知仓储 ----

type fakeNoticeRepo struct {
	mu      sync.Mutex
	notices []*mongo.NoticeModel
}

func newFakeNoticeRepo() *fakeNoticeRepo {
	return &fakeNoticeRepo{}
}

func (f *fakeNoticeRepo) CreateNotice(_ context.Context, msg *mongo.NoticeModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, msg)
	return nil
}

func (f *fakeNoticeRepo) GetNoticeList(_ context.Context, userID uint64, limit, offset int64) ([]*mongo.NoticeModel, error) {
	return nil, nil
}

func (f *fakeNoticeRepo) MarkAsRead(_ context.Context, userID uint64, msgID string) error {
	return nil
}

func (f *fakeNoticeRepo) MarkAllAsRead(_ context.Context, userID uint64) error { return nil }

func (f *fakeNoticeRepo) GetUnreadCount(_ context.Context, userID uint64) (int64, error) {
	return 0, nil
}

func (f *fakeNoticeRepo) byType(noticeType int8) []*mongo.NoticeModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.NoticeModel
	for _, n := range f.notices {
		if n.Type == noticeType {
			res = append(res, n)
		}
	}
	return res
}

// ---- 检索仓储 ----

type fakeMessageESRepo struct {
	mu   sync.Mutex
	docs []*es.MessageES
	hits []*es.MessageES
}

func newFakeMessageESRepo() *fakeMessageESRepo {
	return &fakeMessageESRepo{}
}

func (f *fakeMessageESRepo) IndexMessage(_ context.Context, msg *es.MessageES) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, msg)
	return nil
}

func (f *fakeMessageESRepo) SearchMessages(_ context.Context, convID uint64, queryText string, from, size int) ([]*es.MessageES, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits, nil
}

func (f *fakeMessageESRepo) MarkMessageDeleted(_ context.Context, convID, seq uint64) error {
	return nil
}

func (f *fakeMessageESRepo) DeleteByConversation(_ context.Context, convID uint64) error {
	return nil
}

// ---- LLM ----

type fakeReplier struct {
	mu      sync.Mutex
	reqs    []*llm.ReplyRequest
	replyFn func(req *llm.ReplyRequest) (*llm.ReplyResult, error)
}

func (f *fakeReplier) Reply(_ context.Context, req *llm.ReplyRequest) (*llm.ReplyResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	fn := f.replyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &llm.ReplyResult{Text: "好的。", Model: "test-model", PromptTokens: 100, CompletionTokens: 20}, nil
}

func (f *fakeReplier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeSummarizer struct {
	mu          sync.Mutex
	reqs        []*llm.SummaryRequest
	summarizeFn func(req *llm.SummaryRequest) (*llm.SummaryResult, error)
}

func (f *fakeSummarizer) Summarize(_ context.Context, req *llm.SummaryRequest) (*llm.SummaryResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	fn := f.summarizeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &llm.SummaryResult{
		Summary:   "大家互相认识了一下",
		KeyEvents: []string{"初次见面"},
		Model:     "test-summary-model",
	}, nil
}

func (f *fakeSummarizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// ---- 积分账本 ----

type fakeLedger struct {
	mu          sync.Mutex
	verifyErr   error
	chargeErr   error
	credits     int
	verifyCalls int
	charges     []*billing.ChargeRequest
}

func (f *fakeLedger) Verify(_ context.Context, userID uint64, estimate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyErr
}

func (f *fakeLedger) Charge(_ context.Context, req *billing.ChargeRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chargeErr != nil {
		return 0, f.chargeErr
	}
	f.charges = append(f.charges, req)
	return f.credits, nil
}

func (f *fakeLedger) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

// ---- 消息管道 ----

type fakeProducer struct {
	mu       sync.Mutex
	events   []*kafka.MessageEvent
	failures []*kafka.ChargeFailure
}

func (f *fakeProducer) PublishMessage(ev *kafka.MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeProducer) PublishChargeFailure(ev *kafka.ChargeFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, ev)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) failureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

// ---- 事件广播 ----

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*hub.Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, ev *hub.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBroadcaster) byType(eventType string) []*hub.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var res []*hub.Event
	for _, ev := range b.events {
		if ev.Type == eventType {
			res = append(res, ev)
		}
	}
	return res
}

func (b *recordingBroadcaster) countByType(eventType string) int {
	return len(b.byType(eventType))
}

// ---- 在场存储 ----

type fakePresenceStore struct {
	mu        sync.Mutex
	presence  map[uint64]map[uint64]map[string]time.Time // convID -> userID -> connID -> 心跳时间
	connUser  map[string]uint64
	connConvs map[string]map[uint64]bool
	typing    map[uint64]map[uint64]time.Time // convID -> userID -> 过期时刻
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{
		presence:  make(map[uint64]map[uint64]map[string]time.Time),
		connUser:  make(map[string]uint64),
		connConvs: make(map[string]map[uint64]bool),
		typing:    make(map[uint64]map[uint64]time.Time),
	}
}

func (f *fakePresenceStore) Upsert(_ context.Context, convID, userID uint64, connID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presence[convID] == nil {
		f.presence[convID] = make(map[uint64]map[string]time.Time)
	}
	if f.presence[convID][userID] == nil {
		f.presence[convID][userID] = make(map[string]time.Time)
	}
	f.presence[convID][userID][connID] = at
	return nil
}

func (f *fakePresenceStore) Remove(_ context.Context, convID, userID uint64, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conns, ok := f.presence[convID][userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(f.presence[convID], userID)
		}
	}
	return nil
}

func (f *fakePresenceStore) Connections(_ context.Context, convID uint64, since time.Time) (map[uint64][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make(map[uint64][]string)
	for userID, conns := range f.presence[convID] {
		for connID, at := range conns {
			if at.After(since) {
				res[userID] = append(res[userID], connID)
			}
		}
	}
	return res, nil
}

func (f *fakePresenceStore) Trim(_ context.Context, convID uint64, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for userID, conns := range f.presence[convID] {
		for connID, at := range conns {
			if at.Before(before) {
				delete(conns, connID)
				removed++
			}
		}
		if len(conns) == 0 {
			delete(f.presence[convID], userID)
		}
	}
	return removed, nil
}

func (f *fakePresenceStore) ActiveConvIDs(_ context.Context) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []uint64
	for convID, users := range f.presence {
		if len(users) > 0 {
			res = append(res, convID)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res, nil
}

func (f *fakePresenceStore) BindConn(_ context.Context, connID string, userID uint64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connUser[connID] = userID
	return nil
}

func (f *fakePresenceStore) AddConnConv(_ context.Context, connID string, convID uint64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connConvs[connID] == nil {
		f.connConvs[connID] = make(map[uint64]bool)
	}
	f.connConvs[connID][convID] = true
	return nil
}

func (f *fakePresenceStore) RemoveConnConv(_ context.Context, connID string, convID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connConvs[connID], convID)
	return nil
}

func (f *fakePresenceStore) ConnInfo(_ context.Context, connID string) (uint64, []uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.connUser[connID]
	if !ok {
		return 0, nil, nil
	}
	var convIDs []uint64
	for convID := range f.connConvs[connID] {
		convIDs = append(convIDs, convID)
	}
	sort.Slice(convIDs, func(i, j int) bool { return convIDs[i] < convIDs[j] })
	return userID, convIDs, nil
}

func (f *fakePresenceStore) DropConn(_ context.Context, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connUser, connID)
	delete(f.connConvs, connID)
	return nil
}

func (f *fakePresenceStore) SetTyping(_ context.Context, convID, userID uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typing[convID] == nil {
		f.typing[convID] = make(map[uint64]time.Time)
	}
	f.typing[convID][userID] = at
	return nil
}

func (f *fakePresenceStore) ClearTyping(_ context.Context, convID, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.typing[convID], userID)
	return nil
}

func (f *fakePresenceStore) ListTyping(_ context.Context, convID uint64, since time.Time) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []uint64
	for userID, deadline := range f.typing[convID] {
		if deadline.After(since) {
			res = append(res, userID)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res, nil
}

// ---- 记忆服务桩 ----

type stubMemoryService struct {
	mu             sync.Mutex
	shouldCompress bool
	compressCalls  int
	lastEndSeq     uint64
}

func (s *stubMemoryService) ShouldCompress(conv *model.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldCompress
}

func (s *stubMemoryService) Compress(_ context.Context, convID, endSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressCalls++
	s.lastEndSeq = endSeq
	return nil
}

func (s *stubMemoryService) ListMemories(_ context.Context, convID, viewerID uint64, limit int) ([]*dto.MemoryDTO, error) {
	return nil, nil
}

func (s *stubMemoryService) RetryFailed(_ context.Context) (int, error) { return 0, nil }
