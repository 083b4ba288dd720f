package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{SendTime: 0, Work: Work{Tag: WorkConstant}},
		{SendTime: 1, Work: Work{Tag: WorkBusy, Payload: 1_000_000}},
		{SendTime: 0xFFFFFFFFFFFFFFFF, Work: Work{Tag: WorkSleep, Payload: 50_000}},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, EncodeRequest(&buf, want))
		require.Equal(t, RequestSize, buf.Len())

		got, err := DecodeRequest(&buf)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	want := Response{ClientSendTime: 123456789}

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, want))
	require.Equal(t, ResponseSize, buf.Len())

	got, err := DecodeResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeRequestInvalidTag(t *testing.T) {
	buf := make([]byte, RequestSize)
	buf[8] = 3

	_, err := DecodeRequest(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrInvalidWorkTag)
}

func TestDecodeRequestShortRead(t *testing.T) {
	buf := make([]byte, RequestSize-1)
	_, err := DecodeRequest(bytes.NewReader(buf))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEndianness(t *testing.T) {
	req := Request{SendTime: 0x0102030405060708, Work: Work{Tag: WorkConstant}}

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	require.Equal(t, want, buf.Bytes())
}

func TestResponseEcho(t *testing.T) {
	req := Request{SendTime: 1000, Work: Work{Tag: WorkConstant}}

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	decoded, err := DecodeRequest(&buf)
	require.NoError(t, err)

	resp := Response{ClientSendTime: decoded.SendTime}
	var respBuf bytes.Buffer
	require.NoError(t, EncodeResponse(&respBuf, resp))
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xE8}, respBuf.Bytes())
}

func TestToLatencyRecord(t *testing.T) {
	resp := Response{ClientSendTime: 1000}

	lr, err := resp.ToLatencyRecord(2000)
	require.NoError(t, err)
	require.Equal(t, LatencyRecord{SendTime: 1000, RecvTime: 2000}, lr)

	_, err = resp.ToLatencyRecord(999)
	require.True(t, errors.Is(err, ErrClockAnomaly))
}

func TestPutGetRequestSlice(t *testing.T) {
	buf := make([]byte, RequestSize)
	req := Request{SendTime: 42, Work: Work{Tag: WorkSleep, Payload: 10}}
	PutRequest(buf, req)

	got, err := GetRequest(buf)
	require.NoError(t, err)
	require.Equal(t, req, got)
}
