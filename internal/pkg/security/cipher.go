package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var msgAEAD cipher.AEAD

// InitCipher 用配置密钥初始化消息加密器，密钥经 sha256 派生
func InitCipher(secret string) error {
	if secret == "" {
		return errors.New("消息加密密钥为空")
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return fmt.Errorf("初始化加密器失败: %w", err)
	}
	msgAEAD = aead
	return nil
}

// SealMessage 加密消息正文，随机 nonce 前置后整体 base64
func SealMessage(plain string) (string, error) {
	if msgAEAD == nil {
		return "", errors.New("加密器未初始化")
	}
	nonce := make([]byte, msgAEAD.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成 nonce 失败: %w", err)
	}
	sealed := msgAEAD.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenMessage 解密消息正文，密文损坏时返回错误而非 panic
func OpenMessage(sealed string) (string, error) {
	if msgAEAD == nil {
		return "", errors.New("加密器未初始化")
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("密文不是合法 base64: %w", err)
	}
	if len(raw) < msgAEAD.NonceSize() {
		return "", errors.New("密文长度不足")
	}
	nonce, body := raw[:msgAEAD.NonceSize()], raw[msgAEAD.NonceSize():]
	plain, err := msgAEAD.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}
	return string(plain), nil
}
