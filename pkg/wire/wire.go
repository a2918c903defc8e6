// Package wire is the binary encoding of requests and responses exchanged
// over the dispatch channel.
//
// Every value starts with a one byte variant tag. Integers and IEEE-754
// floats are little-endian, strings are a u32 byte length followed by UTF-8
// bytes, and a Transform is ten consecutive f32 values (position, scale,
// rotation). A message must be consumed exactly: trailing bytes are an error.
package wire

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"

	"github.com/aretw0/tickvm/pkg/domain"
)

// Request tags.
const (
	TagDraw byte = iota
	TagPlay
	TagExit
	TagPoll
	TagTime
	TagLog
)

// Response tags.
const (
	TagEmpty byte = iota
	TagTimeResponse
	TagEvent
)

// MaxString bounds decoded strings so a corrupt length cannot force a huge allocation.
const MaxString = 1 << 20

// EncodeRequest appends the encoding of req to dst.
func EncodeRequest(dst []byte, req domain.Request) ([]byte, error) {
	switch r := req.(type) {
	case domain.DrawRequest:
		dst = append(dst, TagDraw)
		dst = appendString(dst, r.Asset)
		return appendTransform(dst, r.Transform), nil
	case domain.PlayRequest:
		dst = append(dst, TagPlay)
		return appendString(dst, r.Asset), nil
	case domain.ExitRequest:
		return append(dst, TagExit), nil
	case domain.PollRequest:
		return append(dst, TagPoll), nil
	case domain.TimeRequest:
		return append(dst, TagTime), nil
	case domain.LogRequest:
		dst = append(dst, TagLog)
		return appendString(dst, r.Message), nil
	}
	return dst, &domain.ProtocolError{Reason: "unsupported request type"}
}

// DecodeRequest parses exactly one request from b.
func DecodeRequest(b []byte) (domain.Request, error) {
	r := reader{buf: b}
	var req domain.Request
	switch tag := r.u8(); tag {
	case TagDraw:
		req = domain.DrawRequest{Asset: r.str(), Transform: r.transform()}
	case TagPlay:
		req = domain.PlayRequest{Asset: r.str()}
	case TagExit:
		req = domain.ExitRequest{}
	case TagPoll:
		req = domain.PollRequest{}
	case TagTime:
		req = domain.TimeRequest{}
	case TagLog:
		req = domain.LogRequest{Message: r.str()}
	default:
		if r.err == nil {
			r.fail("unknown request tag %d", tag)
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeResponse appends the encoding of resp to dst.
func EncodeResponse(dst []byte, resp domain.Response) ([]byte, error) {
	switch r := resp.(type) {
	case domain.EmptyResponse:
		return append(dst, TagEmpty), nil
	case domain.TimeResponse:
		dst = append(dst, TagTimeResponse)
		dst = binary.LittleEndian.AppendUint64(dst, r.Tick)
		return binary.LittleEndian.AppendUint64(dst, uint64(r.Delta)), nil
	case domain.EventResponse:
		dst = append(dst, TagEvent)
		dst = binary.LittleEndian.AppendUint32(dst, r.Event.Player)
		dst = append(dst, byte(r.Event.Kind))
		dst = binary.LittleEndian.AppendUint32(dst, r.Event.Code)
		dst = appendF32(dst, r.Event.X)
		return appendF32(dst, r.Event.Y), nil
	}
	return dst, &domain.ProtocolError{Reason: "unsupported response type"}
}

// DecodeResponse parses exactly one response from b.
func DecodeResponse(b []byte) (domain.Response, error) {
	r := reader{buf: b}
	var resp domain.Response
	switch tag := r.u8(); tag {
	case TagEmpty:
		resp = domain.EmptyResponse{}
	case TagTimeResponse:
		resp = domain.TimeResponse{Tick: r.u64(), Delta: time.Duration(r.u64())}
	case TagEvent:
		ev := domain.PlayerEvent{Player: r.u32(), Kind: domain.EventKind(r.u8())}
		ev.Code = r.u32()
		ev.X = r.f32()
		ev.Y = r.f32()
		if ev.Kind > domain.EventMove && r.err == nil {
			r.fail("unknown event kind %d", ev.Kind)
		}
		resp = domain.EventResponse{Event: ev}
	default:
		if r.err == nil {
			r.fail("unknown response tag %d", tag)
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return resp, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendF32(dst []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
}

func appendTransform(dst []byte, t domain.Transform) []byte {
	for _, f := range t.Position {
		dst = appendF32(dst, f)
	}
	for _, f := range t.Scale {
		dst = appendF32(dst, f)
	}
	for _, f := range t.Rotation {
		dst = appendF32(dst, f)
	}
	return dst
}

func validUTF8(s string) bool { return utf8.ValidString(s) }
