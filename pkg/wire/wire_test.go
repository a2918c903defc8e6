package wire_test

import (
	"testing"
	"time"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestLayout(t *testing.T) {
	b, err := wire.EncodeRequest(nil, domain.PlayRequest{Asset: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []byte{wire.TagPlay, 2, 0, 0, 0, 'h', 'i'}, b)

	b, err = wire.EncodeRequest(nil, domain.DrawRequest{Asset: "", Transform: domain.IdentityTransform})
	require.NoError(t, err)
	// tag + string length + 10 floats
	assert.Len(t, b, 1+4+40)
	// scale.x == 1.0f
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, b[1+4+12:1+4+16])
}

func TestRequestsSurviveTheChannel(t *testing.T) {
	pose := domain.Transform{
		Position: [3]float32{1.5, -2, 3},
		Scale:    [3]float32{1, 1, 1},
		Rotation: [4]float32{0, 0.7071, 0, 0.7071},
	}
	reqs := []domain.Request{
		domain.DrawRequest{Asset: "player.png", Transform: pose},
		domain.PlayRequest{Asset: "jump.ogg"},
		domain.ExitRequest{},
		domain.PollRequest{},
		domain.TimeRequest{},
		domain.LogRequest{Message: "héllo"},
	}
	for _, req := range reqs {
		t.Run(req.Kind(), func(t *testing.T) {
			b, err := wire.EncodeRequest(nil, req)
			require.NoError(t, err)
			got, err := wire.DecodeRequest(b)
			require.NoError(t, err)
			assert.Equal(t, req, got)
		})
	}
}

func TestResponsesSurviveTheChannel(t *testing.T) {
	resps := []domain.Response{
		domain.EmptyResponse{},
		domain.TimeResponse{Tick: 1 << 40, Delta: 16 * time.Millisecond},
		domain.EventResponse{Event: domain.PlayerEvent{Player: 3, Kind: domain.EventMove, X: 0.25, Y: -8}},
	}
	for _, resp := range resps {
		b, err := wire.EncodeResponse(nil, resp)
		require.NoError(t, err)
		got, err := wire.DecodeResponse(b)
		require.NoError(t, err)
		assert.Equal(t, resp, got)
	}
}

func TestMalformedMessages(t *testing.T) {
	good, err := wire.EncodeRequest(nil, domain.DrawRequest{Asset: "x", Transform: domain.IdentityTransform})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":          {},
		"unknown tag":    {0xEE},
		"truncated":      good[:len(good)-1],
		"trailing bytes": append(append([]byte{}, good...), 0),
		"huge string":    {wire.TagLog, 0xff, 0xff, 0xff, 0xff},
		"bad utf8":       {wire.TagLog, 1, 0, 0, 0, 0xff},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := wire.DecodeRequest(b)
			var pe *domain.ProtocolError
			assert.ErrorAs(t, err, &pe)
		})
	}

	_, err = wire.DecodeResponse([]byte{wire.TagEvent, 0, 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, domain.ErrProtocol, "event kind 9 is not defined")
}
