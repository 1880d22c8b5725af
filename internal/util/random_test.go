package util

import "testing"

func TestGenerateVerificationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := GenerateVerificationCode(4)
		if len(code) != 4 {
			t.Fatalf("expected 4 digits, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit character in code %q", code)
			}
		}
		seen[code] = true
	}
	// 200 draws from a 10000-value space should not all collide.
	if len(seen) < 2 {
		t.Errorf("expected varied codes, got %d distinct values", len(seen))
	}
}

func TestGenerateVerificationCodeZeroLength(t *testing.T) {
	if code := GenerateVerificationCode(0); code != "" {
		t.Errorf("expected empty string for zero length, got %q", code)
	}
}

func TestGenerateRequestID(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()
	if a == "" || b == "" {
		t.Fatal("ids must not be empty")
	}
	if a == b {
		t.Error("consecutive ids must differ")
	}
}
