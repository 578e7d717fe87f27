package auth

import (
	"testing"
	"time"
)

// RFC 6238 test secret: ASCII "12345678901234567890", base32 encoded.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestVerifyRFCVector(t *testing.T) {
	// The RFC's SHA1 vector at T=59s truncates to 94287082; with six
	// digits that is 287082.
	totp := NewTOTP("test")
	ok, err := totp.Verify(rfcSecret, "287082", time.Unix(59, 0))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("RFC vector code rejected")
	}
}

func TestVerifySkewWindow(t *testing.T) {
	totp := NewTOTP("test")
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	key, err := b32.DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	code := hotpCode(key, base.Unix()/totpPeriod)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"exact step", base, true},
		{"previous step accepts", base.Add(-30 * time.Second), true},
		{"next step accepts", base.Add(30 * time.Second), true},
		{"two steps ahead rejects", base.Add(60 * time.Second), false},
		{"two steps behind rejects", base.Add(-60 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := totp.Verify(secret, code, tt.at)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if ok != tt.want {
				t.Fatalf("Verify at %v = %v, want %v", tt.at, ok, tt.want)
			}
		})
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	totp := NewTOTP("test")
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		ok, err := totp.Verify(rfcSecret, code, now)
		if err != nil || ok {
			t.Fatalf("Verify(%q) = (%v, %v), want (false, nil)", code, ok, err)
		}
	}

	if _, err := totp.Verify("not base32!!", "123456", now); err == nil {
		t.Fatal("malformed secret accepted")
	}
}

func TestProvisioningURI(t *testing.T) {
	totp := NewTOTP("uniplex-security")
	uri := totp.ProvisioningURI(rfcSecret, "alice@example.edu")

	want := "otpauth://totp/uniplex-security:alice@example.edu?" +
		"algorithm=SHA1&digits=6&issuer=uniplex-security&period=30&secret=" + rfcSecret
	if uri != want {
		t.Fatalf("uri = %q, want %q", uri, want)
	}
}
