package internal

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestNewCSRFTokenShape(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		tok, err := NewCSRFToken()
		if err != nil {
			t.Fatalf("NewCSRFToken: %v", err)
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token is not unpadded base64url: %q", tok)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil || len(raw) != CSRFTokenBytes {
			t.Fatalf("token must decode to %d bytes: len=%d err=%v", CSRFTokenBytes, len(raw), err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("duplicate token")
		}
		seen[tok] = struct{}{}
	}
}

func TestRandomTokenPropagatesReaderFailure(t *testing.T) {
	boom := errors.New("entropy exhausted")
	if _, err := RandomToken(iotest.ErrReader(boom), 32); !errors.Is(err, boom) {
		t.Fatalf("expected reader error to propagate, got %v", err)
	}
}
