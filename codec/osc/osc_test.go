package osc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/ppg"
)

func TestEncode_WireFormat(t *testing.T) {
	data, err := Encode(Message{Address: "/ppg/0", Arguments: []any{int32(1), int32(-2)}})
	require.NoError(t, err)

	want := []byte{
		'/', 'p', 'p', 'g', '/', '0', 0, 0,
		',', 'i', 'i', 0,
		0, 0, 0, 1,
		0xff, 0xff, 0xff, 0xfe,
	}
	assert.Equal(t, want, data)
}

func TestEncode_PadsAlignedStrings(t *testing.T) {
	data, err := Encode(Message{Address: "/abc", Arguments: []any{"wxyz"}})
	require.NoError(t, err)

	// "/abc" and "wxyz" are already four bytes long and still get four nulls
	assert.Len(t, data, 8+4+8)
	assert.Equal(t, []byte{0, 0, 0, 0}, data[4:8])
}

func TestRoundTrip(t *testing.T) {
	msg := Message{
		Address:   "/mixed/args",
		Arguments: []any{int32(42), int64(1 << 40), float32(72.5), float64(0.125), "hello"},
	}

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.Zero(t, len(data)%4)

	got, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(Message{Address: "ppg/0"})
	assert.True(t, errors.IsInvalid(err))

	_, err = Encode(Message{Address: "/x", Arguments: []any{true}})
	assert.True(t, errors.IsInvalid(err))
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(Message{Address: "/ppg/1", Arguments: []any{int32(5)}})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no leading slash", []byte{'x', 0, 0, 0, ',', 0, 0, 0}},
		{"unterminated address", []byte("/ppg")},
		{"missing type tag comma", []byte{'/', 'a', 0, 0, 'i', 0, 0, 0}},
		{"truncated argument", valid[:len(valid)-2]},
		{"unsupported tag", []byte{'/', 'a', 0, 0, ',', 'T', 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrParsingFailed)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDecodeBundle(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want ppg.SampleBundle
	}{
		{
			name: "int32 timestamp",
			msg: Message{Address: "/ppg/2", Arguments: []any{
				int32(10), int32(20), int32(30), int32(40), int32(50), int32(1000),
			}},
			want: ppg.SampleBundle{ChannelID: 2, Samples: []int{10, 20, 30, 40, 50}, TimestampMs: 1000},
		},
		{
			name: "int64 timestamp",
			msg: Message{Address: "/ppg/3", Arguments: []any{
				int32(1), int32(2), int32(3), int32(4), int32(5), int64(1 << 33),
			}},
			want: ppg.SampleBundle{ChannelID: 3, Samples: []int{1, 2, 3, 4, 5}, TimestampMs: 1 << 33},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBundle(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBundle_Malformed(t *testing.T) {
	five := []any{int32(1), int32(2), int32(3), int32(4), int32(5)}

	tests := []struct {
		name string
		msg  Message
	}{
		{"wrong prefix", Message{Address: "/beat/0", Arguments: append(five, int32(0))}},
		{"no channel number", Message{Address: "/ppg/x", Arguments: append(five, int32(0))}},
		{"too few arguments", Message{Address: "/ppg/0", Arguments: five}},
		{"float sample", Message{Address: "/ppg/0", Arguments: []any{
			float32(1), int32(2), int32(3), int32(4), int32(5), int32(0),
		}}},
		{"string timestamp", Message{Address: "/ppg/0", Arguments: append(five, "now")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBundle(tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMalformedBundle)
		})
	}
}

func TestEncodeBundle_DecodesBack(t *testing.T) {
	b := ppg.SampleBundle{ChannelID: 1, Samples: []int{0, 4095, 2048, 7, 9}, TimestampMs: 123456}

	data, err := Encode(EncodeBundle(b))
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	got, err := DecodeBundle(msg)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestBeatMessage(t *testing.T) {
	ev := ppg.BeatEvent{ChannelID: 3, DetectionUnixTime: 1767225600.25, BPM: 72.5, Intensity: 0.75}

	msg := BeatMessage(ev)
	assert.Equal(t, "/beat/3", msg.Address)
	assert.Equal(t, []any{int64(1767225600250), float32(72.5), float32(0.75)}, msg.Arguments)

	data, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	back, err := DecodeBeat(decoded)
	require.NoError(t, err)
	assert.Equal(t, ev, back)
}

func TestDecodeBeat_Errors(t *testing.T) {
	_, err := DecodeBeat(Message{Address: "/ppg/0"})
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	_, err = DecodeBeat(Message{Address: "/beat/0", Arguments: []any{int32(1), float32(2), float32(3)}})
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}
