package extractor

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aler9/rtsptrack/internal/transport"
)

type fakeSniffer struct {
	name      string
	sniffOK   bool
	sniffErr  error
	sniffed   bool
}

func (f *fakeSniffer) Init(Output) error                             { return nil }
func (f *fakeSniffer) Read(Source, *PositionHolder) (Result, error)  { return ResultEndOfInput, nil }
func (f *fakeSniffer) Seek(int64) error                               { return nil }
func (f *fakeSniffer) Release()                                      {}
func (f *fakeSniffer) Sniff(Source) (bool, error) {
	f.sniffed = true
	return f.sniffOK, f.sniffErr
}

func TestSelectRTPWithMP2TSampleMIMEUsesMPEGTSExtractor(t *testing.T) {
	ex, err := Select(transport.ProtocolRTP, MimeMP2T, nil, &IDGenerator{}, nil, nil)
	require.NoError(t, err)
	_, ok := ex.(*mpegtsExtractor)
	require.True(t, ok)
}

func TestSelectRTPWithoutPayloadFormatFails(t *testing.T) {
	_, err := Select(transport.ProtocolRTP, "video/avc", nil, &IDGenerator{}, nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSelectRTPGenericUsesPayloadFormat(t *testing.T) {
	rf := &RTPPayloadFormat{ClockRate: 90000, SampleMIME: "video/avc"}
	ex, err := Select(transport.ProtocolRTP, "video/avc", rf, &IDGenerator{}, nil, nil)
	require.NoError(t, err)
	_, ok := ex.(*genericRTPExtractor)
	require.True(t, ok)
}

func TestSelectMP2TProtocolUsesMPEGTSExtractor(t *testing.T) {
	ex, err := Select(transport.ProtocolMP2T, "", nil, &IDGenerator{}, nil, nil)
	require.NoError(t, err)
	_, ok := ex.(*mpegtsExtractor)
	require.True(t, ok)
}

func TestSelectUnknownProtocolFails(t *testing.T) {
	_, err := Select(transport.Protocol(99), "", nil, &IDGenerator{}, nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestSniffRawSkipsEOFAndReturnsFirstMatch(t *testing.T) {
	a := &fakeSniffer{name: "a", sniffErr: io.EOF}
	b := &fakeSniffer{name: "b", sniffOK: false}
	c := &fakeSniffer{name: "c", sniffOK: true}
	d := &fakeSniffer{name: "d", sniffOK: true}

	ex, err := sniffRaw([]Sniffer{a, b, c, d}, nil)
	require.NoError(t, err)
	require.Same(t, c, ex)
	require.True(t, a.sniffed)
	require.True(t, b.sniffed)
	require.True(t, c.sniffed)
	require.False(t, d.sniffed, "sniffing stops at the first match")
}

func TestSniffRawNoneMatchIsUnsupportedFormat(t *testing.T) {
	a := &fakeSniffer{}
	b := &fakeSniffer{}
	_, err := sniffRaw([]Sniffer{a, b}, nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSniffRawPropagatesNonEOFError(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeSniffer{sniffErr: boom}
	_, err := sniffRaw([]Sniffer{a}, nil)
	require.ErrorIs(t, err, boom)
}

func TestIDGeneratorIsMonotonicFromZero(t *testing.T) {
	g := &IDGenerator{}
	require.Equal(t, 0, g.Next())
	require.Equal(t, 1, g.Next())
	require.Equal(t, 2, g.Next())
}
