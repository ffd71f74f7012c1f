package token

import (
	"errors"
	"regexp"
	"testing"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestHashRefreshTokenHex_NoKeyFallsBackToSHA256(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	got := HashRefreshTokenHex("some-refresh-token")
	if !hex64.MatchString(got) {
		t.Fatalf("digest %q is not 64 hex chars", got)
	}
	if got != HashSHA256Hex("some-refresh-token") {
		t.Fatal("keyless mode must equal plain SHA-256")
	}
	if HMACEnabled() {
		t.Fatal("HMACEnabled with blank env")
	}
}

func TestHashRefreshTokenHex_KeyedUsesHMAC(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")

	got := HashRefreshTokenHex("some-refresh-token")
	if !hex64.MatchString(got) {
		t.Fatalf("digest %q is not 64 hex chars", got)
	}
	if got == HashSHA256Hex("some-refresh-token") {
		t.Fatal("keyed mode must differ from plain SHA-256")
	}
	want := HashHMACSHA256Hex("some-refresh-token", []byte("0123456789abcdef0123456789abcdef"))
	if got != want {
		t.Fatalf("digest = %q, want HMAC with env key", got)
	}
	if !HMACEnabled() {
		t.Fatal("HMACEnabled should report true")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "   ")
		if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
			t.Fatalf("err = %v, want ErrHMACKeyMissing", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "shortkey")
		if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
			t.Fatalf("err = %v, want ErrHMACKeyTooShort", err)
		}
	})

	t.Run("valid trims whitespace", func(t *testing.T) {
		t.Setenv(HMACEnvKey, "  0123456789abcdef0123456789abcdef  ")
		key, err := HMACKeyFromEnv(32)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if string(key) != "0123456789abcdef0123456789abcdef" {
			t.Fatalf("key = %q", key)
		}
	})
}
