package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newFixedVerifier(t *testing.T, leeway time.Duration, now time.Time) *HMACTokenVerifier {
	t.Helper()
	verifier, err := NewHMACTokenVerifier("secret", leeway)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	verifier.WithClock(func() time.Time { return now })
	return verifier
}

func TestAuthenticateAcceptsMatchingSubject(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newFixedVerifier(t, time.Second, now)
	token := makeToken(t, "secret", "42", now.Add(30*time.Second))

	claims, err := verifier.Authenticate(token, "42")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if claims.Subject != "42" || claims.ExpiresAt.Before(now) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := verifier.Authenticate(token, "43"); !errors.Is(err, ErrSubjectMismatch) {
		t.Fatalf("expected ErrSubjectMismatch, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newFixedVerifier(t, 0, now)
	token := makeToken(t, "secret", "42", now.Add(-time.Second))

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsInvalidSignatureAndShape(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newFixedVerifier(t, time.Second, now)

	forged := makeToken(t, "other-secret", "42", now.Add(time.Minute))
	for _, token := range []string{forged, "", "a.b", "not.a.token"} {
		if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

func TestIssueRoundTripsThroughVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newFixedVerifier(t, 0, now)

	token, err := verifier.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := verifier.Authenticate(token, "alice")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) || !claims.IssuedAt.Equal(now) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := verifier.Issue(" ", time.Minute); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}

func makeToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","exp":%d,"iat":%d}`, subject, expires.Unix(), expires.Add(-time.Minute).Unix())
	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	signingInput := header + "." + encodedPayload
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(signingInput)); err != nil {
		t.Fatalf("mac write: %v", err)
	}
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + signature
}
