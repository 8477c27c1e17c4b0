package digest

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomDigest(t *testing.T) Digest {
	t.Helper()
	var d Digest
	_, err := rand.Read(d[:])
	require.NoError(t, err)
	return d
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for range 32 {
		d := randomDigest(t)

		std, err := DecodeStd(d.EncodeStd())
		require.NoError(t, err)
		assert.Equal(t, d, std)

		url, err := DecodeURL(d.EncodeURL())
		require.NoError(t, err)
		assert.Equal(t, d, url)
	}
}

func TestCrossCodec(t *testing.T) {
	t.Parallel()

	// The alphabets differ only in +/ vs -_: a digest whose encoding
	// uses none of those decodes under either codec; one that does must
	// fail under the other.
	d, err := FromBytes(make([]byte, Size)) // all zeros: "AAA...="
	require.NoError(t, err)
	fromURL, err := DecodeURL(d.EncodeStd())
	require.NoError(t, err)
	assert.Equal(t, d, fromURL)

	raw := make([]byte, Size)
	for i := range raw {
		raw[i] = 0xFF // encodes with / in std, _ in url
	}
	d, err = FromBytes(raw)
	require.NoError(t, err)
	_, err = DecodeURL(d.EncodeStd())
	assert.Error(t, err)
	_, err = DecodeStd(d.EncodeURL())
	assert.Error(t, err)
}

func TestFromBytesLength(t *testing.T) {
	t.Parallel()

	_, err := FromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrLength)
	_, err = FromBytes(make([]byte, 33))
	assert.ErrorIs(t, err, ErrLength)

	d, err := FromBytes(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, Digest{}, d)
}

func TestDecodeLength(t *testing.T) {
	t.Parallel()

	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, err := DecodeStd(short)
	assert.ErrorIs(t, err, ErrLength)

	long := base64.StdEncoding.EncodeToString(make([]byte, 48))
	_, err = DecodeStd(long)
	assert.ErrorIs(t, err, ErrLength)

	_, err = DecodeStd("")
	assert.ErrorIs(t, err, ErrLength)
}

func TestAppendNoAlloc(t *testing.T) {
	d := randomDigest(t)
	var scratch [EncodedLen]byte
	allocs := testing.AllocsPerRun(100, func() {
		_ = d.AppendURL(scratch[:0])
	})
	assert.Zero(t, allocs)
}

func TestAppendMatchesEncode(t *testing.T) {
	t.Parallel()

	d := randomDigest(t)
	assert.Equal(t, d.EncodeStd(), string(d.AppendStd(nil)))
	assert.Equal(t, d.EncodeURL(), string(d.AppendURL(nil)))
	assert.Len(t, d.EncodeStd(), EncodedLen)
}

func TestHex(t *testing.T) {
	t.Parallel()

	var d Digest
	d[0] = 0xAB
	d[31] = 0x01
	hex := d.Hex()
	assert.Len(t, hex, 64)
	assert.Equal(t, "ab", hex[:2])
	assert.Equal(t, "01", hex[62:])
	assert.Equal(t, hex, d.String())
}

func TestCompare(t *testing.T) {
	t.Parallel()

	var a, b Digest
	assert.Zero(t, a.Compare(b))
	b[31] = 1
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
}
