package signer

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-packager/internal/manifest"
)

// TestSignVerifyRoundtrip checks the core contract plus rejection of
// bit-flipped data and foreign keys.
func TestSignVerifyRoundtrip(t *testing.T) {
	t.Parallel()

	public, private, err := GenerateKeypair()
	require.NoError(t, err)

	data := []byte(`{"version":"1.2.0","entries":[]}` + "\n")

	sig, err := Sign(data, private)
	require.NoError(t, err)
	require.Equal(t, KeyID(public), sig.KeyID)
	require.True(t, Verify(data, sig, public))

	// Any single flipped byte fails verification.
	for i := range data {
		flipped := append([]byte(nil), data...)
		flipped[i] ^= 0x01
		require.False(t, Verify(flipped, sig, public))
	}

	// A different key does not verify.
	otherPublic, _, err := GenerateKeypair()
	require.NoError(t, err)
	require.False(t, Verify(data, sig, otherPublic))
}

// TestVerifyNeverErrors feeds malformed signatures and keys; every case must
// return false instead of panicking or erroring.
func TestVerifyNeverErrors(t *testing.T) {
	t.Parallel()

	public, private, err := GenerateKeypair()
	require.NoError(t, err)

	data := []byte("payload")

	sig, err := Sign(data, private)
	require.NoError(t, err)

	require.False(t, Verify(data, manifest.Signature{Value: "not base64!!"}, public))
	require.False(t, Verify(data, manifest.Signature{Value: "c2hvcnQ="}, public))
	require.False(t, Verify(data, manifest.Signature{}, public))
	require.False(t, Verify(data, sig, ed25519.PublicKey("short")))
	require.False(t, Verify(data, sig, nil))
}

// TestKeyFiles checks save/load of raw key files including size validation.
func TestKeyFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "manifest-signing-key")

	public, private, err := GenerateKeypair()
	require.NoError(t, err)
	require.NoError(t, SaveKeypair(base, public, private))

	loadedPrivate, err := LoadPrivateKey(base)
	require.NoError(t, err)
	require.Equal(t, private, loadedPrivate)

	loadedPublic, err := LoadPublicKey(base + ".pub")
	require.NoError(t, err)
	require.Equal(t, public, loadedPublic)

	// Missing and truncated files.
	_, err = LoadPrivateKey(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, ErrKeyLoad)

	_, err = LoadPrivateKey(base + ".pub")
	require.ErrorIs(t, err, ErrKeyLoad)

	_, err = LoadPublicKey(base)
	require.ErrorIs(t, err, ErrKeyLoad)
}

// TestSignRejectsBadKey ensures damaged key material is an error, not a panic.
func TestSignRejectsBadKey(t *testing.T) {
	t.Parallel()

	_, err := Sign([]byte("data"), ed25519.PrivateKey("truncated"))
	require.ErrorIs(t, err, ErrSigning)
}

// TestWipe verifies the key is zeroed in place.
func TestWipe(t *testing.T) {
	t.Parallel()

	_, private, err := GenerateKeypair()
	require.NoError(t, err)

	Wipe(private)

	for _, b := range private {
		require.Zero(t, b)
	}
}
