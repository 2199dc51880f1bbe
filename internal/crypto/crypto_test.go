package crypto

import (
	"bytes"
	"strings"
	"testing"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_roundtrip(t *testing.T) {
	key := []byte("k")
	sealed, err := Seal([]byte("hello"), key, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))

	plain, err := Open(sealed, key, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestSeal_freshNonce(t *testing.T) {
	a, err := Seal([]byte("same"), []byte("k"), nil)
	require.NoError(t, err)
	b, err := Seal([]byte("same"), []byte("k"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSeal_largeAndEmpty(t *testing.T) {
	large := bytes.Repeat([]byte{0xAB}, 1<<20)
	for _, plain := range [][]byte{{}, large} {
		sealed, err := Seal(plain, []byte("k"), nil)
		require.NoError(t, err)
		got, err := Open(sealed, []byte("k"), nil)
		require.NoError(t, err)
		assert.Equal(t, len(plain), len(got))
	}
}

func TestOpen_rejects(t *testing.T) {
	key := []byte("k")
	sealed, err := Seal([]byte("hello"), key, []byte("aad"))
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-2] ^= 0x01

	tests := []struct {
		name   string
		sealed string
		key    []byte
		aad    []byte
	}{
		{"wrong key", sealed, []byte("other"), []byte("aad")},
		{"wrong aad", sealed, key, []byte("other")},
		{"tampered", string(tampered), key, []byte("aad")},
		{"missing prefix", strings.TrimPrefix(sealed, "v1:"), key, []byte("aad")},
		{"not base64", "v1:!!!", key, []byte("aad")},
		{"too short", "v1:AAAA", key, []byte("aad")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.sealed, tt.key, tt.aad)
			assert.ErrorIs(t, err, ErrInvalidCiphertext)
			assert.True(t, apperrors.Is(err, apperrors.ErrCryptoFailed))
		})
	}
}

func TestEmptyKey(t *testing.T) {
	_, err := Seal([]byte("x"), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = Open("v1:AAAAAAAAAAAAAAAAAAAA", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMachineKey(t *testing.T) {
	assert.Equal(t, MachineKey("m1"), MachineKey("m1"))
	assert.NotEqual(t, MachineKey("m1"), MachineKey("m2"))
	assert.Len(t, MachineKey(""), 32)
	assert.Equal(t, MachineKey(""), MachineKey("wishwell-default-key"))
}

func TestToken_roundtrip(t *testing.T) {
	enc, err := EncryptToken("secret-token-✓", "machine-1")
	require.NoError(t, err)

	dec, err := DecryptToken(enc, "machine-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-token-✓", dec)

	_, err = DecryptToken(enc, "machine-2")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	// a token sealed for another purpose does not open as a token
	other, err := Seal([]byte("x"), MachineKey("machine-1"), nil)
	require.NoError(t, err)
	_, err = DecryptToken(other, "machine-1")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestToken_empty(t *testing.T) {
	_, err := EncryptToken("", "m")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	dec, err := DecryptToken("", "m")
	require.NoError(t, err)
	assert.Empty(t, dec)
}
