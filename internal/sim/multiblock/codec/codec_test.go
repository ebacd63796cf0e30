package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenFields struct {
	Token int32
	Level uint8
}

func (t *tokenFields) MarshalFields(f *Fields) {
	f.Int32(&t.Token)
	f.Uint8(&t.Level)
}

func TestMessage_HeaderAndBodyRoundTrip(t *testing.T) {
	h := Header{Origin: [3]int32{-4, 70, 12}, Controller: 9, State: 1, Active: true}
	b := EncodeMessage(h, &tokenFields{Token: 424242, Level: 3})

	var got tokenFields
	gh, err := DecodeMessage(b, &got)
	require.NoError(t, err)
	assert.Equal(t, h, gh)
	assert.Equal(t, int32(424242), got.Token)
	assert.Equal(t, uint8(3), got.Level)
}

func TestMessage_MissingTrailingFieldsKeepDefaults(t *testing.T) {
	h := Header{Origin: [3]int32{1, 2, 3}, Controller: 1}
	b := EncodeMessage(h, nil)

	got := tokenFields{Token: 7, Level: 2}
	_, err := DecodeMessage(b, &got)
	require.NoError(t, err)
	assert.Equal(t, int32(7), got.Token)
	assert.Equal(t, uint8(2), got.Level)
}

func TestMessage_UnreadTrailingFieldsIgnored(t *testing.T) {
	b := EncodeMessage(Header{Controller: 5}, &tokenFields{Token: 11, Level: 1})

	gh, err := DecodeMessage(b, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), gh.Controller)
}

func TestMessage_TruncatedHeaderIsProtocolError(t *testing.T) {
	b := EncodeMessage(Header{Controller: 5}, nil)

	_, err := DecodeMessage(b[:10], nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolVersion))
}

func TestMessage_WrongVersionIsProtocolError(t *testing.T) {
	b := EncodeMessage(Header{Controller: 5}, nil)
	b[0] = MessageVersion + 1

	_, err := DecodeMessage(b, nil)
	assert.ErrorIs(t, err, ErrProtocolVersion)
}

func TestRecord_RoundTrip(t *testing.T) {
	r := Record{}
	r.SetUint8("state", 1)
	r.SetBool("tankActive", true)
	r.SetInt32("randomNumber", 123456)
	r.SetString("kind", "tank")

	b, err := EncodeRecord(r)
	require.NoError(t, err)
	got, err := DecodeRecord(b)
	require.NoError(t, err)

	st, ok := got.Uint8("state")
	require.True(t, ok)
	assert.Equal(t, uint8(1), st)
	active, ok := got.Bool("tankActive")
	require.True(t, ok)
	assert.True(t, active)
	n, ok := got.Int32("randomNumber")
	require.True(t, ok)
	assert.Equal(t, int32(123456), n)
	kind, ok := got.String("kind")
	require.True(t, ok)
	assert.Equal(t, "tank", kind)
}

func TestRecord_MissingKeysDefault(t *testing.T) {
	got, err := DecodeRecord(nil)
	require.NoError(t, err)

	_, ok := got.Int32("randomNumber")
	assert.False(t, ok)
	assert.False(t, got.Has("state"))
}
