// Package auth verifies the detached Ed25519 signatures agents attach to
// every mutating request.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderAgentID   = "X-Agent-Id"
	HeaderSignature = "X-Agent-Signature"
	HeaderTimestamp = "X-Agent-Timestamp"
)

// DefaultWindow is the allowed clock skew between signer and verifier.
const DefaultWindow = 5 * time.Minute

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrStaleRequest       = errors.New("stale request")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// KeyStore resolves an agent's stored public key. Implementations return
// ErrUnknownAgent when the agent does not exist.
type KeyStore interface {
	AgentPublicKey(ctx context.Context, agentID string) (string, error)
}

type Identity struct {
	AgentID   string
	PublicKey ed25519.PublicKey
}

type Request struct {
	Method    string
	Path      string
	Body      []byte
	AgentID   string
	Signature string
	Timestamp string
}

type Verifier struct {
	keys   KeyStore
	window time.Duration
	now    func() time.Time
}

func NewVerifier(keys KeyStore, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{keys: keys, window: window, now: time.Now}
}

// CanonicalMessage is METHOD:PATH:TIMESTAMP:hex(sha256(body)).
func CanonicalMessage(method, path, timestamp string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{strings.ToUpper(method), path, timestamp, hex.EncodeToString(sum[:])}, ":")
}

// Verify checks presence, freshness, agent and signature, in that order. It
// never mutates anything.
func (v *Verifier) Verify(ctx context.Context, req Request) (Identity, error) {
	agentID := strings.TrimSpace(req.AgentID)
	signature := strings.TrimSpace(req.Signature)
	timestamp := strings.TrimSpace(req.Timestamp)
	if agentID == "" || signature == "" || timestamp == "" {
		return Identity{}, ErrMissingCredentials
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: timestamp %q is not unix seconds", ErrStaleRequest, timestamp)
	}
	drift := v.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.window {
		return Identity{}, fmt.Errorf("%w: %s drift exceeds %s", ErrStaleRequest, drift.Truncate(time.Second), v.window)
	}

	encodedKey, err := v.keys.AgentPublicKey(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrUnknownAgent) {
			return Identity{}, ErrUnknownAgent
		}
		return Identity{}, fmt.Errorf("lookup agent key: %w", err)
	}
	pub, err := ParsePublicKey(encodedKey)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: stored key unusable", ErrInvalidSignature)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}
	message := CanonicalMessage(req.Method, req.Path, timestamp, req.Body)
	if !ed25519.Verify(pub, []byte(message), sig) {
		return Identity{}, ErrInvalidSignature
	}
	return Identity{AgentID: agentID, PublicKey: pub}, nil
}

// Headers are the three values an agent attaches to a signed request.
type Headers struct {
	AgentID   string
	Signature string
	Timestamp string
}

func Sign(priv ed25519.PrivateKey, agentID, method, path string, body []byte, at time.Time) Headers {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	message := CanonicalMessage(method, path, timestamp, body)
	return Headers{
		AgentID:   agentID,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(message))),
		Timestamp: timestamp,
	}
}
