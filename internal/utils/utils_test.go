package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestToken_RoundTrip(t *testing.T) {
	id := uuid.New()
	token, err := GenerateToken("secret", id, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseToken("secret", token)
	if err != nil || got != id {
		t.Fatalf("ParseToken = %v, %v; want %v", got, err, id)
	}
	if _, err := ParseToken("other", token); err == nil {
		t.Error("token verified with the wrong secret")
	}
}

func TestToken_Expired(t *testing.T) {
	token, _ := GenerateToken("secret", uuid.New(), -time.Minute)
	if _, err := ParseToken("secret", token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestSecretHash(t *testing.T) {
	hash, err := HashSecret("pk_test_abc")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckSecret(hash, "pk_test_abc") || CheckSecret(hash, "pk_test_abd") {
		t.Error("bcrypt comparison mismatch")
	}
}
