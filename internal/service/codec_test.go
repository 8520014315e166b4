package service

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traitfusion-api/internal/model"
)

func TestUintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 23, 24, 255, 1 << 32, math.MaxUint64} {
		got, err := DecodeUint(EncodeUint(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestEncodingIsCanonical(t *testing.T) {
	assert.Equal(t, []byte{0x05}, EncodeUint(5))
	assert.Equal(t, []byte{0x18, 0x64}, EncodeUint(100))
	assert.Equal(t, []byte{0x63, 'f', 'o', 'o'}, EncodeText("foo"))
}

func TestDecodeEmptyIsZero(t *testing.T) {
	v, err := DecodeUint(nil)
	require.NoError(t, err)
	assert.Zero(t, v)

	s, err := DecodeText([]byte{})
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestDecodeKindMismatch(t *testing.T) {
	_, err := DecodeUint(EncodeText("fire"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodeText(EncodeUint(7))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodeUint([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrDecode)

	// null and undefined are not values of either kind
	for _, b := range [][]byte{{0xf6}, {0xf7}} {
		_, err = DecodeUint(b)
		assert.ErrorIs(t, err, ErrDecode, "uint 0x%x", b)
		_, err = DecodeText(b)
		assert.ErrorIs(t, err, ErrDecode, "text 0x%x", b)
	}
}

func TestKeccak256(t *testing.T) {
	// Keccak-256 of the empty input
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak256().Hex())
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
}

func TestSnapshotHash(t *testing.T) {
	values := []model.SnapshotValue{
		{Name: model.AttrLevel, Value: EncodeUint(2)},
		{Name: model.AttrZone, Value: EncodeText("ocean")},
	}
	at := time.Unix(1700000000, 0).UTC()

	h := SnapshotHash(values, at)
	assert.Equal(t, h, SnapshotHash(values, at))
	assert.NotEqual(t, h, SnapshotHash(values, at.Add(time.Second)))

	swapped := []model.SnapshotValue{values[1], values[0]}
	assert.NotEqual(t, h, SnapshotHash(swapped, at))

	ts := []byte{0, 0, 0, 0, 0x65, 0x53, 0xf1, 0x00}
	assert.Equal(t, Keccak256(values[0].Value, values[1].Value, ts), h)
}

func TestOracleRequestID(t *testing.T) {
	a := OracleRequestID(1, CategoryFitness, t0)
	assert.Len(t, a, 64)
	assert.Equal(t, a, OracleRequestID(1, CategoryFitness, t0))
	assert.NotEqual(t, a, OracleRequestID(2, CategoryFitness, t0))
	assert.NotEqual(t, a, OracleRequestID(1, CategoryGPS, t0))
	assert.NotEqual(t, a, OracleRequestID(1, CategoryFitness, t0.Add(time.Second)))
}
