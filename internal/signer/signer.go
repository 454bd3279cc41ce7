package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/release-packager/internal/manifest"
)

const (
	// keyIDLength is the number of leading hex characters of the public
	// key used as the signature's key identifier.
	keyIDLength = 8

	// privateKeyPermissions restricts signing keys to the owner.
	privateKeyPermissions os.FileMode = 0o600

	// publicKeyPermissions allows distribution of the verification key.
	publicKeyPermissions os.FileMode = 0o644
)

var (
	// ErrKeyLoad is returned when the signing key cannot be read or has
	// an unexpected shape.
	ErrKeyLoad = errors.New("load signing key")

	// ErrSigning is returned when the key material is unusable at
	// signing time.
	ErrSigning = errors.New("sign manifest")
)

// LoadPrivateKey reads a raw Ed25519 private key file (64 bytes).
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyLoad, err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d",
			ErrKeyLoad, path, len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// LoadPublicKey reads a raw Ed25519 public key file (32 bytes).
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyLoad, err)
	}

	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d",
			ErrKeyLoad, path, len(data), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(data), nil
}

// GenerateKeypair creates a new Ed25519 keypair for manifest signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate Ed25519 keypair: %w", err)
	}

	return public, private, nil
}

// SaveKeypair writes a keypair as raw key files: <base> for the private key
// with owner-only permissions, <base>.pub for the public key.
func SaveKeypair(basePath string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.WriteFile(basePath, private, privateKeyPermissions); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	if err := os.WriteFile(basePath+".pub", public, publicKeyPermissions); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	return nil
}

// KeyID returns the identifier recorded in signatures: the leading hex
// characters of the public key.
func KeyID(public ed25519.PublicKey) string {
	return hex.EncodeToString(public)[:keyIDLength]
}

// Sign produces a signature over the finalized manifest bytes. The key is
// validated up front so damaged key material surfaces as an error rather
// than a panic inside the crypto layer.
func Sign(data []byte, private ed25519.PrivateKey) (manifest.Signature, error) {
	if len(private) != ed25519.PrivateKeySize {
		return manifest.Signature{}, fmt.Errorf("%w: private key has %d bytes, want %d",
			ErrSigning, len(private), ed25519.PrivateKeySize)
	}

	signature := ed25519.Sign(private, data)

	public, ok := private.Public().(ed25519.PublicKey)
	if !ok {
		return manifest.Signature{}, fmt.Errorf("%w: unexpected public key type", ErrSigning)
	}

	return manifest.Signature{
		KeyID: KeyID(public),
		Value: base64.StdEncoding.EncodeToString(signature),
	}, nil
}

// Verify reports whether sig authenticates data under the given public key.
// Malformed input of any kind is a verification failure, never an error —
// client-side verification must be robust against corrupted downloads.
func Verify(data []byte, sig manifest.Signature, public ed25519.PublicKey) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(public, data, raw)
}

// Wipe zeroes private key material. Called as soon as signing completes so
// the key does not outlive its single use in the run.
func Wipe(private ed25519.PrivateKey) {
	for i := range private {
		private[i] = 0
	}
}
