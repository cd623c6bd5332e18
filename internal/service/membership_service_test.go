package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/hub"
	"context"
	"errors"
	"testing"
)

type membershipFixture struct {
	convRepo   *fakeConvRepo
	userRepo   *fakeUserRepo
	charRepo   *fakeCharacterRepo
	noticeRepo *fakeNoticeRepo
	bus        *recordingBroadcaster
	svc        MembershipService
}

func newMembershipFixture() *membershipFixture {
	f := &membershipFixture{
		convRepo:   newFakeConvRepo(),
		userRepo:   newFakeUserRepo(),
		charRepo:   newFakeCharacterRepo(),
		noticeRepo: newFakeNoticeRepo(),
		bus:        &recordingBroadcaster{},
	}
	f.svc = NewMembershipService(f.convRepo, f.userRepo, f.charRepo, f.noticeRepo, f.bus)
	return f
}

// 建一个多人会话：uid 1 为拥有者，其余按给定角色入会
func (f *membershipFixture) seedGroup(maxUsers int, roles map[uint64]int8) *model.Conversation {
	conv := f.convRepo.seedConv(&model.Conversation{
		Type:        model.ConvTypeGroup,
		IsMultiUser: 1,
		MaxUsers:    maxUsers,
		OwnerID:     1,
	})
	f.convRepo.seedMember(conv.ID, 1, model.ConvRoleOwner, 1)
	f.userRepo.seedUser(1, "owner")
	for uid, role := range roles {
		canWrite := int8(1)
		if role == model.ConvRoleViewer {
			canWrite = 0
		}
		f.convRepo.seedMember(conv.ID, uid, role, canWrite)
		f.userRepo.seedUser(uid, "u")
	}
	return conv
}

func TestCreateConversationSingleUserForcesCapacityOne(t *testing.T) {
	f := newMembershipFixture()

	got, err := f.svc.CreateConversation(context.Background(), 7, &dto.CreateConversationReq{
		Type:     model.ConvTypeDirect,
		Title:    "私聊",
		MaxUsers: 20,
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if got.Role != model.ConvRoleOwner {
		t.Fatalf("creator role = %d, want owner", got.Role)
	}

	conv, _ := f.convRepo.GetConversation(context.Background(), got.ConversationID)
	if conv.IsMultiUser != 0 {
		t.Fatalf("direct conversation should stay single user")
	}
	if conv.MaxUsers != 1 {
		t.Fatalf("single user conversation max_users = %d, want 1", conv.MaxUsers)
	}
}

func TestCreateConversationRejectsUnknownCharacter(t *testing.T) {
	f := newMembershipFixture()

	_, err := f.svc.CreateConversation(context.Background(), 7, &dto.CreateConversationReq{
		Type:         model.ConvTypeGroup,
		CharacterIDs: []uint64{404},
	})
	if !errors.Is(err, ErrCharacterNotFound) {
		t.Fatalf("err = %v, want ErrCharacterNotFound", err)
	}
}

func TestJoinRejectsSingleUserConversation(t *testing.T) {
	f := newMembershipFixture()
	conv := f.convRepo.seedConv(&model.Conversation{IsMultiUser: 0, MaxUsers: 1, OwnerID: 1})
	f.convRepo.seedMember(conv.ID, 1, model.ConvRoleOwner, 1)

	if err := f.svc.Join(context.Background(), conv.ID, 2); !errors.Is(err, ErrNotMultiUser) {
		t.Fatalf("err = %v, want ErrNotMultiUser", err)
	}
}

func TestJoinRejectsWhenFull(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(2, map[uint64]int8{2: model.ConvRoleMember})

	if err := f.svc.Join(context.Background(), conv.ID, 3); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestJoinMapsDuplicateKeyToAlreadyMember(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)
	// 两个请求同时通过成员预检，后写入的一方撞唯一索引
	f.convRepo.duplicateOnAdd = true

	if err := f.svc.Join(context.Background(), conv.ID, 2); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("err = %v, want ErrAlreadyMember", err)
	}
}

func TestJoinEmitsMemberJoined(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)

	if err := f.svc.Join(context.Background(), conv.ID, 2); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if n := f.bus.countByType(hub.EventMemberJoined); n != 1 {
		t.Fatalf("MEMBER_JOINED events = %d, want 1", n)
	}
}

func TestOwnerCannotLeaveBeforeTransfer(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})

	if err := f.svc.Leave(context.Background(), conv.ID, 1); !errors.Is(err, ErrOwnershipTransfer) {
		t.Fatalf("err = %v, want ErrOwnershipTransfer", err)
	}

	if err := f.svc.TransferOwnership(context.Background(), conv.ID, 1, 2); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if err := f.svc.Leave(context.Background(), conv.ID, 1); err != nil {
		t.Fatalf("Leave after transfer: %v", err)
	}

	m, _ := f.convRepo.GetMember(context.Background(), conv.ID, 2)
	if m.Role != model.ConvRoleOwner {
		t.Fatalf("new owner role = %d, want owner", m.Role)
	}
}

func TestLastOwnerCanLeaveAlone(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)

	if err := f.svc.Leave(context.Background(), conv.ID, 1); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	n, _ := f.convRepo.CountMembers(context.Background(), conv.ID)
	if n != 0 {
		t.Fatalf("members left = %d, want 0", n)
	}
}

func TestTransferOwnershipDemotesOldOwner(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})

	if err := f.svc.TransferOwnership(context.Background(), conv.ID, 1, 2); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}

	old, _ := f.convRepo.GetMember(context.Background(), conv.ID, 1)
	if old.Role != model.ConvRoleModerator {
		t.Fatalf("old owner role = %d, want moderator", old.Role)
	}
	if n := f.bus.countByType(hub.EventOwnerChanged); n != 1 {
		t.Fatalf("OWNER_CHANGED events = %d, want 1", n)
	}
}

func TestTransferOwnershipRejectsViewerTarget(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleViewer})

	if err := f.svc.TransferOwnership(context.Background(), conv.ID, 1, 2); !errors.Is(err, ErrTargetUserInvalid) {
		t.Fatalf("err = %v, want ErrTargetUserInvalid", err)
	}
}

func TestTransferOwnershipRequiresOwner(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{
		2: model.ConvRoleModerator,
		3: model.ConvRoleMember,
	})

	if err := f.svc.TransferOwnership(context.Background(), conv.ID, 2, 3); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestKickPermissionMatrix(t *testing.T) {
	cases := []struct {
		name    string
		actor   uint64
		target  uint64
		wantErr error
	}{
		{"owner kicks moderator", 1, 2, nil},
		{"moderator kicks member", 2, 3, nil},
		{"moderator kicks moderator", 2, 5, ErrPermissionDenied},
		{"member kicks viewer", 3, 4, ErrPermissionDenied},
		{"moderator kicks owner", 2, 1, ErrPermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newMembershipFixture()
			conv := f.seedGroup(8, map[uint64]int8{
				2: model.ConvRoleModerator,
				3: model.ConvRoleMember,
				4: model.ConvRoleViewer,
				5: model.ConvRoleModerator,
			})
			err := f.svc.Kick(context.Background(), conv.ID, tc.actor, tc.target)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil {
				if m, _ := f.convRepo.GetMember(context.Background(), conv.ID, tc.target); m != nil {
					t.Fatalf("target still a member after kick")
				}
			}
		})
	}
}

func TestUpdateRolePromoteViewerRestoresWrite(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleViewer})

	if err := f.svc.UpdateRole(context.Background(), conv.ID, 1, 2, model.ConvRoleMember); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	m, _ := f.convRepo.GetMember(context.Background(), conv.ID, 2)
	if m.Role != model.ConvRoleMember || m.CanWrite != 1 {
		t.Fatalf("role = %d canWrite = %d, want member with write", m.Role, m.CanWrite)
	}
}

func TestUpdateRoleDemoteToViewerDropsWrite(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})

	if err := f.svc.UpdateRole(context.Background(), conv.ID, 1, 2, model.ConvRoleViewer); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	m, _ := f.convRepo.GetMember(context.Background(), conv.ID, 2)
	if m.CanWrite != 0 {
		t.Fatalf("viewer canWrite = %d, want 0", m.CanWrite)
	}
}

func TestUpdateRoleModeratorCannotGrantModerator(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{
		2: model.ConvRoleModerator,
		3: model.ConvRoleMember,
	})

	err := f.svc.UpdateRole(context.Background(), conv.ID, 2, 3, model.ConvRoleModerator)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestSetWritableRejectsViewer(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleViewer})

	if err := f.svc.SetWritable(context.Background(), conv.ID, 1, 2, true); !errors.Is(err, ErrParamInvalid) {
		t.Fatalf("err = %v, want ErrParamInvalid", err)
	}
}

func TestSetWritableMutesMember(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})

	if err := f.svc.SetWritable(context.Background(), conv.ID, 1, 2, false); err != nil {
		t.Fatalf("SetWritable: %v", err)
	}
	m, _ := f.convRepo.GetMember(context.Background(), conv.ID, 2)
	if m.CanWrite != 0 {
		t.Fatalf("canWrite = %d, want 0", m.CanWrite)
	}
}

func TestUpdateModeDowngradeBlockedWithMembers(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})

	err := f.svc.UpdateMode(context.Background(), conv.ID, 1, false, 0)
	if !errors.Is(err, ErrModeLocked) {
		t.Fatalf("err = %v, want ErrModeLocked", err)
	}
}

func TestUpdateModeDowngradeWhenAlone(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)

	if err := f.svc.UpdateMode(context.Background(), conv.ID, 1, false, 0); err != nil {
		t.Fatalf("UpdateMode: %v", err)
	}
	got, _ := f.convRepo.GetConversation(context.Background(), conv.ID)
	if got.IsMultiUser != 0 || got.MaxUsers != 1 {
		t.Fatalf("multi = %d max = %d, want 0/1", got.IsMultiUser, got.MaxUsers)
	}
}

func TestInviteMemberNeedsInvitePermission(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})
	f.userRepo.seedUser(9, "invitee")

	err := f.svc.Invite(context.Background(), conv.ID, 2, 9, 0)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestInviteViewerJoinsReadOnly(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)
	f.userRepo.seedUser(9, "invitee")

	if err := f.svc.Invite(context.Background(), conv.ID, 1, 9, model.ConvRoleViewer); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	m, _ := f.convRepo.GetMember(context.Background(), conv.ID, 9)
	if m == nil || m.Role != model.ConvRoleViewer || m.CanWrite != 0 {
		t.Fatalf("viewer invite result = %+v, want read-only viewer", m)
	}
	if len(f.noticeRepo.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(f.noticeRepo.notices))
	}
}

func TestInviteModeratorOnlyByOwner(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleModerator})
	f.userRepo.seedUser(9, "invitee")

	err := f.svc.Invite(context.Background(), conv.ID, 2, 9, model.ConvRoleModerator)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	if err := f.svc.Invite(context.Background(), conv.ID, 1, 9, model.ConvRoleModerator); err != nil {
		t.Fatalf("owner invite moderator: %v", err)
	}
}

func TestAddCharacterDuplicateRejected(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)
	ch := f.charRepo.seed(&model.Character{ID: 100, Name: "阿尔法"})
	f.convRepo.seedCharacter(conv.ID, ch, 0)

	err := f.svc.AddCharacter(context.Background(), conv.ID, 1, 100)
	if !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("err = %v, want ErrAlreadyMember", err)
	}
}

func TestAddCharacterMemberForbidden(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, map[uint64]int8{2: model.ConvRoleMember})
	f.charRepo.seed(&model.Character{ID: 100, Name: "阿尔法"})

	err := f.svc.AddCharacter(context.Background(), conv.ID, 2, 100)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestRemoveCharacterEmitsEvent(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)
	ch := f.charRepo.seed(&model.Character{ID: 100, Name: "阿尔法"})
	f.convRepo.seedCharacter(conv.ID, ch, 0)

	if err := f.svc.RemoveCharacter(context.Background(), conv.ID, 1, 100); err != nil {
		t.Fatalf("RemoveCharacter: %v", err)
	}
	if n := f.bus.countByType(hub.EventCharacterRemoved); n != 1 {
		t.Fatalf("CHARACTER_REMOVED events = %d, want 1", n)
	}
	list, _ := f.convRepo.ListCharacters(context.Background(), conv.ID)
	if len(list) != 0 {
		t.Fatalf("characters left = %d, want 0", len(list))
	}
}

func TestNameIndexPrefersConversationNickname(t *testing.T) {
	f := newMembershipFixture()
	conv := f.seedGroup(8, nil)
	f.userRepo.seedUser(2, "账号昵称")
	m := f.convRepo.seedMember(conv.ID, 2, model.ConvRoleMember, 1)
	m.Nickname = "会话内昵称"
	ch := f.charRepo.seed(&model.Character{ID: 100, Name: "阿尔法"})
	f.convRepo.seedCharacter(conv.ID, ch, 0)

	idx, err := f.svc.NameIndex(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("NameIndex: %v", err)
	}
	if got := idx.UserName(2); got != "会话内昵称" {
		t.Fatalf("UserName(2) = %q, want 会话内昵称", got)
	}
	if got := idx.CharacterName(100); got != "阿尔法" {
		t.Fatalf("CharacterName(100) = %q", got)
	}
	if got := idx.UserName(404); got != "用户404" {
		t.Fatalf("missing user fallback = %q", got)
	}
}
