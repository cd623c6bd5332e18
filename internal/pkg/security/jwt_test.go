package security

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken(42, []string{"user", "admin"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token = %q, want three jwt segments", token)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("UserID = %d, want 42", claims.UserID)
	}
	if len(claims.Roles) != 2 || claims.Roles[1] != "admin" {
		t.Fatalf("Roles = %v", claims.Roles)
	}
	if claims.Issuer != "Chorus" {
		t.Fatalf("Issuer = %q", claims.Issuer)
	}
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	token, err := GenerateToken(1, nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	parts := strings.Split(token, ".")
	parts[2] = "AAAA" + parts[2][4:]
	if _, err := ValidateToken(strings.Join(parts, ".")); err == nil {
		t.Fatalf("tampered signature accepted")
	}
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, &UserClaims{UserID: 7})
	signed, err := other.SignedString([]byte("别人的钥匙"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := ValidateToken(signed); err == nil {
		t.Fatalf("token signed with foreign key accepted")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token"); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestExtractSignature(t *testing.T) {
	token, err := GenerateToken(9, nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	sig, err := ExtractSignature(token)
	if err != nil {
		t.Fatalf("ExtractSignature: %v", err)
	}
	if !strings.HasSuffix(token, "."+sig) {
		t.Fatalf("signature %q not the token tail", sig)
	}
	if _, err := ExtractSignature("only.two"); err == nil {
		t.Fatalf("malformed token accepted")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret!" {
		t.Fatalf("password stored in plaintext")
	}
	if err := CheckPasswordHash("s3cret!", hash); err != nil {
		t.Fatalf("CheckPasswordHash: %v", err)
	}
	if err := CheckPasswordHash("wrong", hash); err == nil {
		t.Fatalf("wrong password accepted")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("empty password accepted")
	}
}
