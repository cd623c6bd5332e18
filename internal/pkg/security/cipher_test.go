package security

import (
	"encoding/base64"
	"strings"
	"testing"
)

func initTestCipher(t *testing.T) {
	t.Helper()
	if err := InitCipher("cipher-test-secret"); err != nil {
		t.Fatalf("InitCipher: %v", err)
	}
}

func TestInitCipherRejectsEmptySecret(t *testing.T) {
	if err := InitCipher(""); err == nil {
		t.Fatalf("empty secret accepted")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	initTestCipher(t)

	cases := []string{
		"你好，世界",
		"",
		"with ascii and 中文 mixed · line\nbreaks",
		strings.Repeat("长消息", 2000),
	}
	for i, plain := range cases {
		sealed, err := SealMessage(plain)
		if err != nil {
			t.Fatalf("SealMessage case %d: %v", i, err)
		}
		if plain != "" && strings.Contains(sealed, plain) {
			t.Fatalf("ciphertext contains plaintext")
		}
		got, err := OpenMessage(sealed)
		if err != nil {
			t.Fatalf("OpenMessage: %v", err)
		}
		if got != plain {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
		}
	}
}

// 同一明文两次加密产生不同密文
func TestSealUsesFreshNonce(t *testing.T) {
	initTestCipher(t)

	a, err := SealMessage("同一句话")
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	b, err := SealMessage("同一句话")
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	if a == b {
		t.Fatalf("two seals produced identical ciphertext")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	initTestCipher(t)

	sealed, err := SealMessage("不可篡改")
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0x01
	if _, err := OpenMessage(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Fatalf("tampered ciphertext opened")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	initTestCipher(t)

	if _, err := OpenMessage("不是 base64 !!!"); err == nil {
		t.Fatalf("non-base64 input accepted")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := OpenMessage(short); err == nil {
		t.Fatalf("truncated ciphertext accepted")
	}
}

// 换密钥后旧密文不可解
func TestOpenFailsAfterKeyRotation(t *testing.T) {
	if err := InitCipher("key-one"); err != nil {
		t.Fatalf("InitCipher: %v", err)
	}
	sealed, err := SealMessage("旧钥匙写下的")
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	if err := InitCipher("key-two"); err != nil {
		t.Fatalf("InitCipher: %v", err)
	}
	if _, err := OpenMessage(sealed); err == nil {
		t.Fatalf("ciphertext survived key rotation")
	}
}
