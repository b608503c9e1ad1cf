package seal

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("256772000111"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "256772000111")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "256772000111", string(plain))
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	a, _ := New(testKey(1))
	b, _ := New(testKey(2))

	sealed, err := a.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrCiphertext)

	_, err = a.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestSealString(t *testing.T) {
	s, _ := New(testKey(3))

	empty, err := s.SealString("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	enc, err := s.SealString("bc1qexample")
	require.NoError(t, err)
	dec, err := s.OpenString(enc)
	require.NoError(t, err)
	assert.Equal(t, "bc1qexample", dec)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey(hex.EncodeToString(testKey(9)))
	require.NoError(t, err)
	assert.Equal(t, testKey(9), k)

	k, err = ParseKey("CQkJCQkJCQkJCQkJCQkJCQkJCQkJCQkJCQkJCQkJCQk=")
	require.NoError(t, err)
	assert.Equal(t, testKey(9), k)

	_, err = ParseKey("too-short")
	assert.Error(t, err)

	_, err = New([]byte("short"))
	assert.Error(t, err)
}
