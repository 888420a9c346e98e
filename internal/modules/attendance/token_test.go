package attendance

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService("test-secret", 5*time.Second)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func mintCredential(t *testing.T, svc *TokenService) (TokenBundle, string, time.Time) {
	t.Helper()
	bundle, expiresAt, err := svc.Mint("teacher-1", "SES20260901abcd", "session-db-1", time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	credential, err := bundle.Credential()
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	return bundle, credential, expiresAt
}

func TestNewTokenServiceRejectsBadConfig(t *testing.T) {
	if _, err := NewTokenService("", 5*time.Second); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewTokenService("secret", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestMintProducesWellFormedBundle(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, _, expiresAt := mintCredential(t, svc)

	if len(bundle.Token) != tokenLength {
		t.Fatalf("token length = %d, want %d", len(bundle.Token), tokenLength)
	}
	for _, r := range bundle.Token {
		if !strings.ContainsRune(tokenAlphabet, r) {
			t.Fatalf("token contains %q outside alphabet", r)
		}
	}
	if len(bundle.Checksum) != checksumLen {
		t.Fatalf("checksum length = %d, want %d", len(bundle.Checksum), checksumLen)
	}
	if bundle.Payload.Version != TokenVersion {
		t.Fatalf("version = %q, want %q", bundle.Payload.Version, TokenVersion)
	}
	if bundle.Payload.SessionDBID != "session-db-1" || bundle.Payload.TeacherID != "teacher-1" {
		t.Fatalf("payload not bound to session: %+v", bundle.Payload)
	}

	parsed, err := time.Parse(payloadTimeLayout, bundle.Payload.ExpiresAt)
	if err != nil {
		t.Fatalf("parse expires_at: %v", err)
	}
	if !parsed.Equal(expiresAt) {
		t.Fatalf("payload expires_at %v != returned %v", parsed, expiresAt)
	}
}

func TestCanonicalPayloadKeyOrder(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, _, _ := mintCredential(t, svc)

	canonical, err := canonicalJSON(bundle.Payload)
	if err != nil {
		t.Fatalf("canonicalJSON: %v", err)
	}
	keys := []string{"expires_at", "session_db_id", "session_id", "teacher_id", "timestamp", "version"}
	prev := -1
	for _, k := range keys {
		idx := strings.Index(string(canonical), `"`+k+`"`)
		if idx < 0 {
			t.Fatalf("canonical form missing key %q: %s", k, canonical)
		}
		if idx < prev {
			t.Fatalf("key %q out of order in %s", k, canonical)
		}
		prev = idx
	}
}

func TestValidateAcceptsFreshCredential(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, credential, expiresAt := mintCredential(t, svc)

	payload, reason := svc.Validate(credential, &bundle.Token, &expiresAt)
	if reason != ReasonNone {
		t.Fatalf("reason = %q, want none", reason)
	}
	if payload == nil || payload.SessionDBID != "session-db-1" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, _, expiresAt := mintCredential(t, svc)

	if _, reason := svc.Validate("not json at all", &bundle.Token, &expiresAt); reason != ReasonInvalidFormat {
		t.Fatalf("reason = %q, want %q", reason, ReasonInvalidFormat)
	}
	if _, reason := svc.Validate(`{"payload":null,"token":"x"}`, &bundle.Token, &expiresAt); reason != ReasonInvalidStructure {
		t.Fatalf("reason = %q, want %q", reason, ReasonInvalidStructure)
	}
	if _, reason := svc.Validate(`{"payload":{},"token":"x","signature":"y"}`, &bundle.Token, &expiresAt); reason != ReasonInvalidStructure {
		t.Fatalf("missing checksum: reason = %q, want %q", reason, ReasonInvalidStructure)
	}
}

func TestValidateRejectsRotatedToken(t *testing.T) {
	svc := newTestTokenService(t)
	_, credential, expiresAt := mintCredential(t, svc)

	// A later issuance replaced the live token.
	rotated := "R" + strings.Repeat("x", tokenLength-1)
	if _, reason := svc.Validate(credential, &rotated, &expiresAt); reason != ReasonStaleOrInvalidToken {
		t.Fatalf("reason = %q, want %q", reason, ReasonStaleOrInvalidToken)
	}
	if _, reason := svc.Validate(credential, nil, &expiresAt); reason != ReasonStaleOrInvalidToken {
		t.Fatalf("nil stored token: reason = %q, want %q", reason, ReasonStaleOrInvalidToken)
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, _, expiresAt := mintCredential(t, svc)

	tampered := bundle
	tampered.Signature = flipHexChar(bundle.Signature)
	credential := mustCredential(t, tampered)
	if _, reason := svc.Validate(credential, &bundle.Token, &expiresAt); reason != ReasonSignatureMismatch {
		t.Fatalf("reason = %q, want %q", reason, ReasonSignatureMismatch)
	}
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, _, expiresAt := mintCredential(t, svc)

	// Pointing the signed payload at another session must break the HMAC.
	tampered := bundle
	tampered.Payload.SessionDBID = "some-other-session"
	credential := mustCredential(t, tampered)
	if _, reason := svc.Validate(credential, &bundle.Token, &expiresAt); reason != ReasonSignatureMismatch {
		t.Fatalf("reason = %q, want %q", reason, ReasonSignatureMismatch)
	}
}

func TestValidateRejectsTamperedChecksum(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, _, expiresAt := mintCredential(t, svc)

	tampered := bundle
	tampered.Checksum = flipHexChar(bundle.Checksum)
	credential := mustCredential(t, tampered)
	if _, reason := svc.Validate(credential, &bundle.Token, &expiresAt); reason != ReasonChecksumMismatch {
		t.Fatalf("reason = %q, want %q", reason, ReasonChecksumMismatch)
	}
}

func TestValidateRejectsExpiredCredential(t *testing.T) {
	svc := newTestTokenService(t)
	bundle, credential, _ := mintCredential(t, svc)

	past := time.Now().Add(-time.Second)
	if _, reason := svc.Validate(credential, &bundle.Token, &past); reason != ReasonExpired {
		t.Fatalf("reason = %q, want %q", reason, ReasonExpired)
	}
	if _, reason := svc.Validate(credential, &bundle.Token, nil); reason != ReasonExpired {
		t.Fatalf("nil expiry: reason = %q, want %q", reason, ReasonExpired)
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	svc := newTestTokenService(t)
	other, err := NewTokenService("another-secret", 5*time.Second)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	bundle, credential, expiresAt := mintCredential(t, other)
	if _, reason := svc.Validate(credential, &bundle.Token, &expiresAt); reason != ReasonSignatureMismatch {
		t.Fatalf("reason = %q, want %q", reason, ReasonSignatureMismatch)
	}
}

func TestParsePayload(t *testing.T) {
	svc := newTestTokenService(t)
	_, credential, _ := mintCredential(t, svc)

	payload := ParsePayload(credential)
	if payload == nil || payload.SessionID != "SES20260901abcd" {
		t.Fatalf("payload = %+v", payload)
	}
	if ParsePayload("garbage") != nil {
		t.Fatal("expected nil payload for garbage input")
	}
}

func TestMintRotationProducesDistinctTokens(t *testing.T) {
	svc := newTestTokenService(t)
	first, _, _ := mintCredential(t, svc)
	second, _, _ := mintCredential(t, svc)
	if first.Token == second.Token {
		t.Fatal("two mints produced the same token")
	}
	if first.Signature == second.Signature {
		t.Fatal("two mints produced the same signature")
	}
}

func mustCredential(t *testing.T, b TokenBundle) string {
	t.Helper()
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	return string(raw)
}

// flipHexChar changes one hex digit so the string stays well formed but no
// longer matches.
func flipHexChar(s string) string {
	b := []byte(s)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	return string(b)
}
