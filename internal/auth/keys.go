package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

var ErrInvalidPublicKey = errors.New("invalid public key")

// ParsePublicKey accepts an Ed25519 key as standard or raw base64, hex, or an
// OpenSSH authorized_keys line ("ssh-ed25519 AAAA... comment").
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrInvalidPublicKey
	}

	if strings.HasPrefix(encoded, ssh.KeyAlgoED25519) {
		parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(encoded))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		cryptoKey, ok := parsed.(ssh.CryptoPublicKey)
		if !ok {
			return nil, ErrInvalidPublicKey
		}
		pub, ok := cryptoKey.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, ErrInvalidPublicKey
		}
		return pub, nil
	}

	if len(encoded) == hex.EncodedLen(ed25519.PublicKeySize) {
		if raw, err := hex.DecodeString(encoded); err == nil {
			return ed25519.PublicKey(raw), nil
		}
	}
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		raw, err := encoding.DecodeString(encoded)
		if err == nil && len(raw) == ed25519.PublicKeySize {
			return ed25519.PublicKey(raw), nil
		}
	}
	return nil, ErrInvalidPublicKey
}

// EncodePublicKey is the canonical storage form of a key.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePrivateKey accepts a base64 encoded 64-byte key or a 32-byte seed.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("decode private key: unexpected length %d", len(raw))
	}
}
