// Package did handles the decentralized identifiers that own vault content.
//
// Ownership keys are case-insensitive and always go through Normalize before
// they reach storage. Signature verification supports did:key identifiers
// carrying an ed25519 public key (multicodec 0xed01, multibase base58btc).
package did

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	keyMethodPrefix = "did:key:"
	base58btcPrefix = 'z'
)

var ed25519Multicodec = []byte{0xed, 0x01}

var (
	// ErrInvalidDID is returned for malformed identifiers
	ErrInvalidDID = errors.New("invalid did")
	// ErrUnsupportedMethod is returned when a DID cannot be resolved to a key
	ErrUnsupportedMethod = errors.New("unsupported did method")
	// ErrInvalidSignature is returned when a signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")
)

// Normalize returns the canonical form used as the owner partition key
func Normalize(did string) string {
	return strings.ToLower(strings.TrimSpace(did))
}

// Validate checks the generic did:<method>:<id> shape
func Validate(did string) error {
	parts := strings.SplitN(strings.TrimSpace(did), ":", 3)
	if len(parts) != 3 || !strings.EqualFold(parts[0], "did") || parts[1] == "" || parts[2] == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}
	return nil
}

// ParseKey extracts the ed25519 public key from a did:key identifier
func ParseKey(did string) (ed25519.PublicKey, error) {
	did = strings.TrimSpace(did)
	if err := Validate(did); err != nil {
		return nil, err
	}
	if len(did) <= len(keyMethodPrefix) || !strings.EqualFold(did[:len(keyMethodPrefix)], keyMethodPrefix) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, did)
	}

	id := did[len(keyMethodPrefix):]
	if id[0] != base58btcPrefix {
		return nil, fmt.Errorf("%w: multibase prefix %q", ErrInvalidDID, id[0])
	}

	raw, err := base58.Decode(id[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrUnsupportedMethod)
	}

	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// FromPublicKey renders an ed25519 public key as a did:key identifier
func FromPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return keyMethodPrefix + string(base58btcPrefix) + base58.Encode(buf)
}

// Verify checks that signature is the DID key's signature over message
func Verify(did string, message, signature []byte) error {
	pub, err := ParseKey(did)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
