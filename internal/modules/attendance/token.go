package attendance

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"time"
)

// TokenVersion tags the credential wire format.
const TokenVersion = "2.0"

const (
	tokenLength   = 64
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	checksumLen   = 16
	// payloadTimeLayout is fixed: payload timestamps are signed, so their
	// text form must be reproducible.
	payloadTimeLayout = time.RFC3339Nano
)

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("qr signing secret is not configured")

// RejectReason describes why a credential or marking attempt was refused.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonMissingInput        RejectReason = "qr data is required"
	ReasonInvalidFormat       RejectReason = "invalid qr code format"
	ReasonInvalidStructure    RejectReason = "invalid qr code structure"
	ReasonStaleOrInvalidToken RejectReason = "invalid qr code token"
	ReasonSignatureMismatch   RejectReason = "qr code signature verification failed"
	ReasonChecksumMismatch    RejectReason = "qr code checksum verification failed"
	ReasonExpired             RejectReason = "qr code has expired"
	ReasonSessionNotFound     RejectReason = "session not found"
	ReasonSessionClosed       RejectReason = "this session is no longer active"
	ReasonDuplicateMarking    RejectReason = "attendance already marked for this session"
	ReasonUnauthorized        RejectReason = "unauthorized access"
	ReasonNetworkRejected     RejectReason = "unauthorized wifi network"
)

// TokenPayload is the signed part of the credential. The struct field order
// is the canonical key order (alphabetical); both signing and verification
// marshal through canonicalJSON, so the signature is stable. Do not reorder
// fields.
type TokenPayload struct {
	ExpiresAt   string `json:"expires_at"`
	SessionDBID string `json:"session_db_id"`
	SessionID   string `json:"session_id"`
	TeacherID   string `json:"teacher_id"`
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version"`
}

// TokenBundle is the externally visible credential: the payload plus the
// opaque token, its HMAC signature, and a truncated integrity checksum. The
// checksum is redundant next to the HMAC and is kept only for wire
// compatibility; the HMAC is the authoritative integrity check.
type TokenBundle struct {
	Payload   TokenPayload `json:"payload"`
	Token     string       `json:"token"`
	Signature string       `json:"signature"`
	Checksum  string       `json:"checksum"`
}

// Credential serializes the bundle to its wire form.
func (b TokenBundle) Credential() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// TokenService mints and validates QR credentials. It holds only the
// signing secret and the TTL; the session row stays the single authority
// for which token is currently live.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService builds a TokenService. ttlSeconds <= 0 falls back to the
// caller-provided default at the config layer, so it is rejected here.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		return nil, errors.New("qr token ttl must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Mint generates a fresh credential bound to the given session. It is pure
// apart from randomness; persisting the rotation is the caller's job.
func (s *TokenService) Mint(teacherID, sessionCode, sessionDBID string, now time.Time) (TokenBundle, time.Time, error) {
	token, err := randomToken(tokenLength)
	if err != nil {
		return TokenBundle{}, time.Time{}, err
	}

	now = now.UTC()
	expiresAt := now.Add(s.ttl)
	payload := TokenPayload{
		ExpiresAt:   expiresAt.Format(payloadTimeLayout),
		SessionDBID: sessionDBID,
		SessionID:   sessionCode,
		TeacherID:   teacherID,
		Timestamp:   now.Format(payloadTimeLayout),
		Version:     TokenVersion,
	}

	canonical, err := canonicalJSON(payload)
	if err != nil {
		return TokenBundle{}, time.Time{}, err
	}

	bundle := TokenBundle{
		Payload:   payload,
		Token:     token,
		Signature: s.sign(canonical),
		Checksum:  checksum(canonical, token),
	}
	return bundle, expiresAt, nil
}

// Validate checks a submitted credential against the session's live token
// state. Checks run in a strict order and stop at the first failure:
// format, structure, token match, signature, checksum, expiry. The expiry
// compared is the session's stored one, never the submitted payload's.
func (s *TokenService) Validate(credential string, storedToken *string, storedExpiry *time.Time) (*TokenPayload, RejectReason) {
	var wire struct {
		Payload   *TokenPayload `json:"payload"`
		Token     string        `json:"token"`
		Signature string        `json:"signature"`
		Checksum  string        `json:"checksum"`
	}
	if err := json.Unmarshal([]byte(credential), &wire); err != nil {
		return nil, ReasonInvalidFormat
	}
	if wire.Payload == nil || wire.Token == "" || wire.Signature == "" || wire.Checksum == "" {
		return nil, ReasonInvalidStructure
	}

	// Binding to the live session token is what defeats replay: a rotated-out
	// credential is still internally consistent but no longer matches.
	if storedToken == nil || wire.Token != *storedToken {
		return nil, ReasonStaleOrInvalidToken
	}

	canonical, err := canonicalJSON(*wire.Payload)
	if err != nil {
		return nil, ReasonInvalidFormat
	}
	if !constantTimeEqual(wire.Signature, s.sign(canonical)) {
		return nil, ReasonSignatureMismatch
	}
	if !constantTimeEqual(wire.Checksum, checksum(canonical, wire.Token)) {
		return nil, ReasonChecksumMismatch
	}

	if storedExpiry == nil || time.Now().After(*storedExpiry) {
		return nil, ReasonExpired
	}

	return wire.Payload, ReasonNone
}

// ParsePayload extracts the payload without validating; used to resolve the
// session before the full check can run against its stored token.
func ParsePayload(credential string) *TokenPayload {
	var wire struct {
		Payload *TokenPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(credential), &wire); err != nil {
		return nil
	}
	return wire.Payload
}

func (s *TokenService) sign(canonical []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

func checksum(canonical []byte, token string) string {
	sum := sha256.Sum256(append(append([]byte{}, canonical...), token...))
	return hex.EncodeToString(sum[:])[:checksumLen]
}

// canonicalJSON is the single serialization used for signing and
// verification. encoding/json emits struct fields in declaration order with
// no whitespace, which pins the byte form.
func canonicalJSON(p TokenPayload) ([]byte, error) {
	return json.Marshal(p)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomToken(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tokenAlphabet[idx.Int64()]
	}
	return string(out), nil
}
