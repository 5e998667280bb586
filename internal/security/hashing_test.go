package security

import (
	"testing"
)

func TestHasher_HashAndMatch(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("123456")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || hash == "123456" {
		t.Fatalf("Hash = %q, want non-empty bcrypt hash", hash)
	}
	if !h.Matches(hash, "123456") {
		t.Error("Matches should accept the hashed secret")
	}
	if h.Matches(hash, "654321") {
		t.Error("Matches should reject a different secret")
	}
}

func TestHasher_EmptyNeverMatches(t *testing.T) {
	h := NewHasher(4)
	hash, _ := h.Hash("123456")
	if h.Matches("", "123456") {
		t.Error("empty hash should not match")
	}
	if h.Matches(hash, "") {
		t.Error("empty secret should not match")
	}
}

func TestHasher_Cost(t *testing.T) {
	if h := NewHasher(12); h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	if h := NewHasher(0); h.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h.Cost)
	}
	if h := NewHasher(99); h.Cost != 31 {
		t.Errorf("cost above MaxCost should be clamped to 31, got %d", h.Cost)
	}
}
