package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/minio"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/pkg/security"
	"Chorus/internal/repository"
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type UserService interface {
	Register(ctx context.Context, dto *dto.RegisterDTO) error
	Login(ctx context.Context, dto *dto.CredentialDTO) (string, error)
	Logout(ctx context.Context, token string) error
	GetUserInfo(ctx context.Context, id uint64) (*dto.UserDTO, error)
	GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) ([]*dto.UserDTO, error)
	GetUserByCondition(ctx context.Context, cond *dto.GetUserByConditionDTO) ([]*model.User, error)
	SearchUser(ctx context.Context, keyword string, page, pageSize int) ([]*dto.UserDTO, error)
	UpdateUserInfo(ctx context.Context, id uint64, dto *dto.UserDTO) error
	UpdatePasswordFromOld(ctx context.Context, id uint64, dto *dto.ChangePasswordDTO) error
	UpdateUsername(ctx context.Context, id uint64, dto *dto.ChangeUsernameDTO) error
	UpdateAvatar(ctx context.Context, id uint64, objectName string) error
	InvalidateUser(ctx context.Context, id uint64) error
	BanUser(ctx context.Context, id uint64, operatorID uint64) error
	UnBanUser(ctx context.Context, id uint64) error
	CancelUser(ctx context.Context, id uint64, token string) error
}

type UserServiceImpl struct {
	userRepo repository.UserRepo
	roleRepo repository.RoleRepo
}

func NewUserService(userRepo repository.UserRepo, roleRepo repository.RoleRepo) UserService {
	return &UserServiceImpl{
		userRepo: userRepo,
		roleRepo: roleRepo,
	}
}

func (s *UserServiceImpl) Register(ctx context.Context, regDTO *dto.RegisterDTO) error {
	if regDTO.Username == nil || regDTO.Password == nil {
		return ErrMissingLoginCredentials
	}
	findUser, err := s.userRepo.GetUserByUsername(ctx, *regDTO.Username)
	if err != nil {
		return err
	}
	if findUser != nil {
		return ErrUserUsernameExist
	}

	user := &model.User{}
	err = copier.Copy(user, &regDTO)
	if err != nil {
		return err
	}

	passwordHash, err := security.HashPassword(*regDTO.Password)
	if err != nil {
		return err
	}
	user.Password = &passwordHash

	detail := &model.UserDetail{}
	err = copier.Copy(detail, &regDTO)
	if err != nil {
		return err
	}
	if detail.AvatarURL == "" {
		detail.AvatarURL = consts.DefaultAvatarURL
	}

	role := model.UserRole{
		UserID: user.ID,
		RoleID: 1,
	}
	roles := []*model.UserRole{&role}

	err = s.userRepo.CreateUser(ctx, user, detail, &roles)
	if err != nil {
		return err
	}

	return nil
}

func (s *UserServiceImpl) Login(ctx context.Context, dto *dto.CredentialDTO) (string, error) {
	if dto.Username == nil || *dto.Username == "" {
		return "", ErrMissingLoginCredentials
	}
	user, err := s.userRepo.GetUserByUsername(ctx, *dto.Username)
	if err != nil {
		return "", err
	}
	if user == nil || user.IsDelete {
		return "", ErrUserNotFound
	}
	if dto.Password == nil || user.Password == nil {
		return "", ErrPasswordIncorrect
	}
	err = security.CheckPasswordHash(*dto.Password, *user.Password)
	if err != nil {
		return "", ErrPasswordIncorrect
	}
	if user.IsBan {
		return "", ErrUserBan
	}
	roleNames, err := s.getRoleNamesForUser(ctx, user)
	if err != nil {
		return "", err
	}
	token, err := security.GenerateToken(user.ID, roleNames)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Logout 按签名拉黑当前 Token，黑名单时效与 JWT 有效期对齐
func (s *UserServiceImpl) Logout(ctx context.Context, token string) error {
	signature, err := security.ExtractSignature(token)
	if err != nil {
		return err
	}
	err = redis.SetWithExpiration(ctx, consts.TokenBlacklistKey+signature, true, security.JWTExpirationTime)
	if err != nil {
		return err
	}
	return nil
}

func (s *UserServiceImpl) GetUserInfo(ctx context.Context, id uint64) (*dto.UserDTO, error) {
	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	userDTO := &dto.UserDTO{}
	err = copier.Copy(userDTO, user)
	if err != nil {
		return nil, err
	}
	err = copier.Copy(userDTO, user.UserDetail)
	if err != nil {
		return nil, err
	}
	userDTO.UserID = &user.ID
	url := minio.GetPublicURL(user.UserDetail.AvatarURL)
	userDTO.AvatarURL = &url
	return userDTO, nil
}

func (s *UserServiceImpl) GetUserSimpleInfoByIds(ctx context.Context, ids []uint64) ([]*dto.UserDTO, error) {
	newIds := make([]uint64, 0, len(ids))
	mp := make(map[uint64]*dto.UserDTO)
	for _, id := range ids {
		value, err := redis.GetValue(ctx, consts.UserSimpleInfoKey+strconv.FormatUint(id, 10))
		if err != nil {
			return nil, err
		}
		if value != "" {
			var userDTO *dto.UserDTO
			err = json.Unmarshal([]byte(value), &userDTO)
			if err != nil {
				newIds = append(newIds, id)
			} else {
				mp[id] = userDTO
			}
		} else {
			newIds = append(newIds, id)
		}
	}
	if len(newIds) > 0 {
		userDetails, err := s.userRepo.GetUserSimpleInfoByIds(ctx, newIds)
		if err != nil {
			return nil, err
		}
		for _, userDetail := range userDetails {
			userDTO := &dto.UserDTO{}
			err = copier.Copy(userDTO, userDetail)
			if err != nil {
				return nil, err
			}
			url := minio.GetPublicURL(userDetail.AvatarURL)
			userDTO.AvatarURL = &url
			mp[userDetail.UserID] = userDTO
			jsonStr, err := json.Marshal(userDTO)
			if err != nil {
				return nil, err
			}
			err = redis.SetWithExpiration(ctx, consts.UserSimpleInfoKey+strconv.FormatUint(userDetail.UserID, 10), string(jsonStr), time.Hour*1)
			if err != nil {
				return nil, err
			}
		}
	}
	userDTOList := make([]*dto.UserDTO, 0, len(ids))
	for _, id := range ids {
		if mp[id] == nil {
			continue
		}
		userDTOList = append(userDTOList, mp[id])
	}
	return userDTOList, nil
}

// GetUserByCondition 管理端查询，返回带封禁状态的完整记录，密码一律抹掉
func (s *UserServiceImpl) GetUserByCondition(ctx context.Context, cond *dto.GetUserByConditionDTO) ([]*model.User, error) {
	var user *model.User
	var userList []*model.User
	var err error
	if cond.ID != nil {
		user, err = s.userRepo.GetUserById(ctx, *cond.ID)
	} else if cond.Username != nil {
		user, err = s.userRepo.GetUserByUsername(ctx, *cond.Username)
	} else if cond.Nickname != nil {
		offset := (cond.Page - 1) * cond.PageSize
		details, dErr := s.userRepo.SearchUserByNickname(ctx, *cond.Nickname, offset, cond.PageSize)
		if dErr != nil {
			return nil, dErr
		}
		ids := make([]uint64, 0, len(details))
		for _, d := range details {
			ids = append(ids, d.UserID)
		}
		if len(ids) == 0 {
			return []*model.User{}, nil
		}
		userList, err = s.userRepo.GetUserByIds(ctx, ids)
	}
	if err != nil {
		return nil, err
	}
	if user != nil {
		user.Password = nil
		return []*model.User{user}, nil
	}
	for _, item := range userList {
		item.Password = nil
		url := minio.GetPublicURL(item.UserDetail.AvatarURL)
		item.UserDetail.AvatarURL = url
	}
	return userList, nil
}

// SearchUser 普通用户按昵称搜人，只出脱敏字段
func (s *UserServiceImpl) SearchUser(ctx context.Context, keyword string, page, pageSize int) ([]*dto.UserDTO, error) {
	offset := (page - 1) * pageSize
	details, err := s.userRepo.SearchUserByNickname(ctx, keyword, offset, pageSize)
	if err != nil {
		return nil, err
	}
	list := make([]*dto.UserDTO, 0, len(details))
	for _, d := range details {
		userDTO := &dto.UserDTO{}
		if err := copier.Copy(userDTO, d); err != nil {
			return nil, err
		}
		url := minio.GetPublicURL(d.AvatarURL)
		userDTO.AvatarURL = &url
		list = append(list, userDTO)
	}
	return list, nil
}

func (s *UserServiceImpl) UpdateUserInfo(ctx context.Context, id uint64, dto *dto.UserDTO) error {
	newUUID, err := uuid.NewUUID()
	if err != nil {
		return err
	}
	lockKey := consts.UserDetailLock + strconv.FormatUint(id, 10)
	lock, err := redis.TryLock(ctx, lockKey, newUUID.String(), time.Second*5, 3)
	if err != nil {
		return err
	}
	if !lock {
		return UnExpectedError
	}
	defer redis.UnLock(ctx, lockKey, newUUID.String())

	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	err = copier.CopyWithOption(&user.UserDetail, dto, copier.Option{IgnoreEmpty: true})
	if err != nil {
		return err
	}
	err = s.userRepo.UpdateUserDetail(ctx, &user.UserDetail)
	if err != nil {
		return err
	}
	return s.InvalidateUser(ctx, id)
}

func (s *UserServiceImpl) UpdatePasswordFromOld(ctx context.Context, id uint64, dto *dto.ChangePasswordDTO) error {
	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	err = security.CheckPasswordHash(*dto.OldPassword, *user.Password)
	if err != nil {
		return ErrPasswordIncorrect
	}
	passwordHash, err := security.HashPassword(*dto.NewPassword)
	if err != nil {
		return err
	}
	user.Password = &passwordHash
	return s.userRepo.UpdateUser(ctx, user)
}

func (s *UserServiceImpl) UpdateUsername(ctx context.Context, id uint64, dto *dto.ChangeUsernameDTO) error {
	userByUsername, err := s.userRepo.GetUserByUsername(ctx, *dto.Username)
	if err != nil {
		return err
	}
	if userByUsername != nil {
		return ErrUserUsernameExist
	}
	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	user.Username = dto.Username
	return s.userRepo.UpdateUser(ctx, user)
}

func (s *UserServiceImpl) UpdateAvatar(ctx context.Context, id uint64, objectName string) error {
	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	user.UserDetail.AvatarURL = objectName
	err = s.userRepo.UpdateUserDetail(ctx, &user.UserDetail)
	if err != nil {
		return err
	}
	return s.InvalidateUser(ctx, id)
}

// InvalidateUser 档案或角色变更后清掉简要信息缓存
func (s *UserServiceImpl) InvalidateUser(ctx context.Context, id uint64) error {
	return redis.DeleteKey(ctx, consts.UserSimpleInfoKey+strconv.FormatUint(id, 10))
}

func (s *UserServiceImpl) BanUser(ctx context.Context, id uint64, operatorID uint64) error {
	if id == operatorID {
		return ErrTargetUserInvalid
	}
	return s.changeUserIsBanStatus(ctx, id, true)
}

func (s *UserServiceImpl) UnBanUser(ctx context.Context, id uint64) error {
	return s.changeUserIsBanStatus(ctx, id, false)
}

// CancelUser 注销账号。当前 Token 立即拉黑，记录转为占位态
func (s *UserServiceImpl) CancelUser(ctx context.Context, id uint64, token string) error {
	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if err = s.Logout(ctx, token); err != nil {
		return err
	}
	if err = s.userRepo.DeleteUser(ctx, id); err != nil {
		return err
	}
	return s.InvalidateUser(ctx, id)
}

func (s *UserServiceImpl) getRoleNamesForUser(ctx context.Context, user *model.User) ([]string, error) {
	if len(user.UserRoles) == 0 {
		return []string{}, nil
	}
	roleIDs := make([]uint64, 0, len(user.UserRoles))
	for _, role := range user.UserRoles {
		roleIDs = append(roleIDs, role.RoleID)
	}
	roles, err := s.roleRepo.GetRoleByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		return nil, UnExpectedError
	}
	roleNames := make([]string, 0, len(*roles))
	for _, role := range *roles {
		roleNames = append(roleNames, role.Name)
	}
	return roleNames, nil
}

func (s *UserServiceImpl) changeUserIsBanStatus(ctx context.Context, id uint64, isBan bool) error {
	user, err := s.userRepo.GetUserById(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	user.IsBan = isBan
	return s.userRepo.UpdateUser(ctx, user)
}
