package handshake

import (
	"context"
	"strings"
	"testing"

	"github.com/ecocycle/wastebot/internal/messaging"
)

func TestIssueDeliversCodeToVerifier(t *testing.T) {
	svc := messaging.NewMockService()
	p := New(svc, WithCodeSource(func() string { return "4821" }))

	code, err := p.Issue(context.Background(), "creator", "Your verification code is %s.")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if code != "4821" {
		t.Errorf("expected code 4821, got %q", code)
	}

	msgs := svc.SentTo("creator")
	if len(msgs) != 1 || !strings.Contains(msgs[0], "4821") {
		t.Errorf("verifier did not receive the code: %v", msgs)
	}
}

func TestIssueDeliveryFailureAborts(t *testing.T) {
	svc := messaging.NewMockService()
	svc.FailSendTo["creator"] = true
	p := New(svc, WithCodeSource(func() string { return "4821" }))

	code, err := p.Issue(context.Background(), "creator", "code: %s")
	if err == nil {
		t.Fatal("expected error when delivery fails")
	}
	if code != "" {
		t.Errorf("no code may be issued on delivery failure, got %q", code)
	}
}

func TestIssueGeneratesFourDigitCodes(t *testing.T) {
	svc := messaging.NewMockService()
	p := New(svc)

	for i := 0; i < 50; i++ {
		code, err := p.Issue(context.Background(), "v", "code: %s")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if len(code) != 4 {
			t.Fatalf("expected a 4-digit code, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		submitted string
		expected  string
		want      bool
	}{
		{"exact match", "4821", "4821", true},
		{"surrounding whitespace", " 4821 ", "4821", true},
		{"mismatch", "1234", "4821", false},
		{"leading zeros distinct", "042", "0042", false},
		{"empty expected never matches", "", "", false},
		{"empty submitted", "", "4821", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.submitted, tt.expected); got != tt.want {
				t.Errorf("Verify(%q, %q) = %v, want %v", tt.submitted, tt.expected, got, tt.want)
			}
		})
	}
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	svc := messaging.NewMockService()
	codes := []string{"1111", "2222"}
	i := 0
	p := New(svc, WithCodeSource(func() string {
		code := codes[i]
		i++
		return code
	}))

	first, err := p.Issue(context.Background(), "v", "code: %s")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Issue(context.Background(), "v", "code: %s")
	if err != nil {
		t.Fatal(err)
	}

	// The session stores only the most recent code; the old one must no
	// longer verify against it.
	if Verify(first, second) {
		t.Error("previous code must not match after reissue")
	}
	if !Verify(second, second) {
		t.Error("most recent code must match")
	}
}
