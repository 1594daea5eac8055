package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCoderFraming(t *testing.T) {
	in := &Telegram{
		Kind:      KindResponse,
		Operation: "Load",
		Params:    Params{ParamPath: "/f.txt", ParamMaxSize: int64(102400), ParamOffset: 4},
		Data: map[string]any{
			FieldContent:   "abc",
			FieldEOF:       false,
			FieldBytesRead: 3,
		},
		Payload: []byte{0, 1, 2, 0xff},
	}

	frame, err := DefaultCoder{}.Encode(in)
	require.NoError(t, err)
	require.Greater(t, len(frame), 4)
	assert.EqualValues(t, len(frame)-4, binary.BigEndian.Uint32(frame[:4]))

	out, err := DefaultCoder{}.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, out.Kind)
	assert.Equal(t, "Load", out.Operation)
	assert.Equal(t, []byte{0, 1, 2, 0xff}, out.Payload)

	// numbers come back as float64 and must still read as integers
	size, ok := out.Params.Int(ParamMaxSize)
	require.True(t, ok)
	assert.EqualValues(t, 102400, size)

	data, ok := out.Data.(map[string]any)
	require.True(t, ok)
	n, ok := AsInt(data[FieldBytesRead])
	require.True(t, ok)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, false, data[FieldEOF])
}

func TestDefaultCoderNormalizesContainers(t *testing.T) {
	in := &Telegram{
		Kind:      KindResponse,
		Operation: "Browse",
		Data: []map[string]any{
			{"Name": "a.txt", "Tags": []string{"x", "y"}},
		},
	}
	frame, err := DefaultCoder{}.Encode(in)
	require.NoError(t, err)

	out, err := DefaultCoder{}.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	list, ok := out.Data.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, "a.txt", entry["Name"])
	assert.Equal(t, []any{"x", "y"}, entry["Tags"])
}

func TestDefaultCoderRejectsOversizedFrame(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := DefaultCoder{}.Decode(bytes.NewReader(header[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDefaultCoderTruncatedBody(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 10)
	_, err := DefaultCoder{}.Decode(bytes.NewReader(append(header[:], 1, 2)))
	require.Error(t, err)
}

func TestJSONCoderUsesWireNames(t *testing.T) {
	in := &Telegram{Kind: KindRequest, Operation: "Delete", Params: Params{ParamPath: "/a"}}
	raw, err := JSONCoder{}.Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"methodID":"Delete"`)
	assert.Contains(t, string(raw), `"parameter":{"Path":"/a"}`)

	out, err := JSONCoder{}.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, in.Operation, out.Operation)
	assert.Equal(t, "/a", out.Params.String(ParamPath))
}

func TestAsInt(t *testing.T) {
	for _, v := range []any{7, int32(7), int64(7), uint32(7), uint64(7), 7.0, float32(7), "7"} {
		n, ok := AsInt(v)
		assert.True(t, ok, "%T", v)
		assert.EqualValues(t, 7, n, "%T", v)
	}
	for _, v := range []any{7.5, "seven", nil, true} {
		_, ok := AsInt(v)
		assert.False(t, ok, "%T %v", v, v)
	}
}

func TestErrorData(t *testing.T) {
	code, text, ok := ParseErrorData(ErrorData(-120202020, "halted"))
	require.True(t, ok)
	assert.EqualValues(t, -120202020, code)
	assert.Equal(t, "halted", text)

	_, _, ok = ParseErrorData(map[string]any{"other": 1})
	assert.False(t, ok)
}
