package signing

import "testing"

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	sig := s.Sign("share-token-abc", 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("share-token-abc", "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	// Validate must be strict about every parameter.
	if s.Validate("other-token", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong share token")
	}
	if s.Validate("share-token-abc", "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate("share-token-abc", "not-a-number", sig) {
		t.Fatalf("expected validation to fail for malformed expiry")
	}
	other := NewSigner([]byte("different"))
	if other.Validate("share-token-abc", "1700000000", sig) {
		t.Fatalf("expected validation to fail under a different secret")
	}
}
