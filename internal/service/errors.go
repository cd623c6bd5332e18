package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	PaymentRequired     = 402
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	TooManyRequests     = 429
	InternalServerError = 500
)

var (
	ErrParamInvalid            = errors.New("参数错误")
	ErrUserNotFound            = errors.New("用户不存在")
	ErrUserBan                 = errors.New("用户已被封禁")
	ErrUserExist               = errors.New("用户已存在")
	ErrUserUsernameExist       = errors.New("用户名已存在")
	ErrPasswordIncorrect       = errors.New("密码错误")
	ErrMissingLoginCredentials = errors.New("缺少登录凭据")
	ErrFileNotSupported        = errors.New("不支持的文件类型")
	ErrFileNotExist            = errors.New("文件不存在")
	ErrUserHasRole             = errors.New("用户已拥有此角色")
	ErrConversationNotFound    = errors.New("会话不存在")
	ErrNotAMember              = errors.New("不是会话成员")
	ErrAlreadyMember           = errors.New("已是会话成员")
	ErrPermissionDenied        = errors.New("会话权限不足")
	ErrCapacityExceeded        = errors.New("会话人数已达上限")
	ErrOwnershipTransfer       = errors.New("请先移交会话所有权")
	ErrNotMultiUser            = errors.New("会话未开启多人模式")
	ErrModeLocked              = errors.New("会话仍有其他成员，无法降级为单人模式")
	ErrInsufficientBalance     = errors.New("积分余额不足")
	ErrGenerationFailed        = errors.New("角色回复生成失败")
	ErrGenerationBusy          = errors.New("生成任务排队已满，请稍后")
	ErrDecryptionFailed        = errors.New("消息解密失败")
	ErrCompressionConflict     = errors.New("记忆压缩正在进行")
	ErrCharacterNotFound       = errors.New("角色不存在")
	ErrCharacterNotInConv      = errors.New("角色不在会话中")
	ErrStoryNotFound           = errors.New("剧本不存在")
	ErrStoryLaunching          = errors.New("剧本开局进行中，请勿重复操作")
	ErrMessageNotFound         = errors.New("消息不存在")
	ErrLoreNotFound            = errors.New("设定条目不存在")
	ErrNoticeNotFound          = errors.New("系统通知不存在")
	ErrTargetUserInvalid       = errors.New("目标用户无效")
	UnauthorizedError          = errors.New("权限不足")
	UnExpectedError            = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:            BadRequest,
	ErrUserNotFound:            NotFound,
	ErrUserBan:                 Unauthorized,
	ErrUserExist:               BadRequest,
	ErrUserUsernameExist:       BadRequest,
	ErrPasswordIncorrect:       Unauthorized,
	ErrMissingLoginCredentials: Unauthorized,
	ErrFileNotSupported:        BadRequest,
	ErrFileNotExist:            NotFound,
	ErrUserHasRole:             BadRequest,
	ErrConversationNotFound:    NotFound,
	ErrNotAMember:              Forbidden,
	ErrAlreadyMember:           BadRequest,
	ErrPermissionDenied:        Forbidden,
	ErrCapacityExceeded:        BadRequest,
	ErrOwnershipTransfer:       BadRequest,
	ErrNotMultiUser:            BadRequest,
	ErrModeLocked:              BadRequest,
	ErrInsufficientBalance:     PaymentRequired,
	ErrGenerationFailed:        InternalServerError,
	ErrGenerationBusy:          TooManyRequests,
	ErrDecryptionFailed:        InternalServerError,
	ErrCompressionConflict:     Conflict,
	ErrCharacterNotFound:       NotFound,
	ErrCharacterNotInConv:      BadRequest,
	ErrStoryNotFound:           NotFound,
	ErrStoryLaunching:          Conflict,
	ErrMessageNotFound:         NotFound,
	ErrLoreNotFound:            NotFound,
	ErrNoticeNotFound:          NotFound,
	ErrTargetUserInvalid:       BadRequest,
	UnauthorizedError:          Unauthorized,
	UnExpectedError:            InternalServerError,
}
