package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", signer.KeyID())

	hash := Hash([]byte(`{"fulfills":"c-1"}`))
	sig, err := signer.Sign(hash)
	require.NoError(t, err)
	assert.Len(t, sig, ed25519.SignatureSize)

	assert.True(t, Verify(signer.PublicKey(), hash, sig))
}

func TestVerify_TamperedInputs(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)
	hash := Hash([]byte("payload"))
	sig, err := signer.Sign(hash)
	require.NoError(t, err)

	t.Run("hash byte flipped", func(t *testing.T) {
		bad := hash
		bad[31] ^= 0x01
		assert.False(t, Verify(signer.PublicKey(), bad, sig))
	})
	t.Run("signature byte flipped", func(t *testing.T) {
		bad := append([]byte(nil), sig...)
		bad[0] ^= 0x80
		assert.False(t, Verify(signer.PublicKey(), hash, bad))
	})
	t.Run("other key", func(t *testing.T) {
		other, err := NewEd25519Signer("key-2")
		require.NoError(t, err)
		assert.False(t, Verify(other.PublicKey(), hash, sig))
	})
	t.Run("malformed sizes", func(t *testing.T) {
		assert.False(t, Verify(nil, hash, sig))
		assert.False(t, Verify(signer.PublicKey(), hash, sig[:10]))
	})
}

func TestSigner_NoKey(t *testing.T) {
	var s Ed25519Signer
	_, err := s.Sign([HashSize]byte{})
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestHash(t *testing.T) {
	h := Hash(nil)
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		hex.EncodeToString(h[:]))
}

func TestParsePublicKeyHex(t *testing.T) {
	signer, err := NewEd25519Signer("k")
	require.NoError(t, err)
	pub, ok := ParsePublicKeyHex(signer.PublicKeyHex())
	require.True(t, ok)
	assert.Equal(t, signer.PublicKey(), pub)

	_, ok = ParsePublicKeyHex("abcd")
	assert.False(t, ok)
}
