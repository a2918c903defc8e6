package dispatch_test

import (
	"testing"
	"time"

	"github.com/aretw0/tickvm/pkg/dispatch"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRoundTripsThroughLocalHost(t *testing.T) {
	var seen []domain.Request
	host := &dispatch.LocalHost{Provider: dispatch.ProviderFunc(func(req domain.Request) domain.Response {
		seen = append(seen, req)
		if _, ok := req.(domain.TimeRequest); ok {
			return domain.TimeResponse{Tick: 4, Delta: time.Second / 60}
		}
		return domain.EmptyResponse{}
	})}
	client := dispatch.NewClient(host)

	draw := domain.DrawRequest{Asset: "tree", Transform: domain.Transform{Position: [3]float32{1, 2, 3}, Scale: [3]float32{2, 2, 2}, Rotation: [4]float32{0, 0, 0, 1}}}
	resp, err := client.Dispatch(draw)
	require.NoError(t, err)
	assert.Equal(t, domain.EmptyResponse{}, resp)

	resp, err = client.Dispatch(domain.TimeRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.TimeResponse{Tick: 4, Delta: time.Second / 60}, resp)

	assert.Equal(t, []domain.Request{draw, domain.TimeRequest{}}, seen)
	assert.True(t, host.Channel.Idle())
}

func TestChannelHandshake(t *testing.T) {
	mem := make([]byte, 128)
	req, err := wire.EncodeRequest(nil, domain.PlayRequest{Asset: "boom"})
	require.NoError(t, err)
	copy(mem[10:], req)

	var ch dispatch.Channel
	p := dispatch.ProviderFunc(func(domain.Request) domain.Response {
		return domain.EventResponse{Event: domain.PlayerEvent{Player: 1, Kind: domain.EventPress, Code: 32}}
	})

	n, err := ch.Submit(mem, 10, uint32(len(req)), p)
	require.NoError(t, err)
	assert.Equal(t, uint32(18), n)
	assert.False(t, ch.Idle())

	require.NoError(t, ch.Retrieve(mem, 64))
	resp, err := wire.DecodeResponse(mem[64 : 64+n])
	require.NoError(t, err)
	assert.Equal(t, domain.EventResponse{Event: domain.PlayerEvent{Player: 1, Kind: domain.EventPress, Code: 32}}, resp)
	assert.True(t, ch.Idle())
}

func TestChannelMisuse(t *testing.T) {
	mem := make([]byte, 32)
	empty := dispatch.ProviderFunc(func(domain.Request) domain.Response { return nil })
	poll, _ := wire.EncodeRequest(nil, domain.PollRequest{})
	copy(mem, poll)

	assertMisuse := func(t *testing.T, err error) {
		t.Helper()
		var te *domain.TickError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, domain.TickMisuse, te.Kind)
	}

	t.Run("retrieve without submit", func(t *testing.T) {
		var ch dispatch.Channel
		assertMisuse(t, ch.Retrieve(mem, 0))
	})

	t.Run("submit twice", func(t *testing.T) {
		var ch dispatch.Channel
		_, err := ch.Submit(mem, 0, 1, empty)
		require.NoError(t, err)
		_, err = ch.Submit(mem, 0, 1, empty)
		assertMisuse(t, err)
	})

	t.Run("request out of bounds", func(t *testing.T) {
		var ch dispatch.Channel
		_, err := ch.Submit(mem, 30, 8, empty)
		assertMisuse(t, err)
	})

	t.Run("response out of bounds", func(t *testing.T) {
		var ch dispatch.Channel
		_, err := ch.Submit(mem, 0, 1, empty)
		require.NoError(t, err)
		assertMisuse(t, ch.Retrieve(mem, 32))
	})

	t.Run("undecodable request", func(t *testing.T) {
		var ch dispatch.Channel
		bad := []byte{0xEE}
		_, err := ch.Submit(bad, 0, 1, empty)
		assertMisuse(t, err)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
}

type garbageHost struct{}

func (garbageHost) Submit([]byte) (int, error) { return 3, nil }
func (garbageHost) Retrieve(buf []byte) error {
	copy(buf, []byte{0x7F, 1, 2})
	return nil
}

func TestMalformedResponseIsProtocolError(t *testing.T) {
	_, err := dispatch.NewClient(garbageHost{}).Dispatch(domain.ExitRequest{})
	var pe *domain.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestChannelRestoreAndClone(t *testing.T) {
	var ch dispatch.Channel
	resp, _ := wire.EncodeResponse(nil, domain.EmptyResponse{})
	require.NoError(t, ch.Restore(resp))
	assert.Equal(t, resp, ch.Pending())

	c := ch.Clone()
	require.NoError(t, ch.Retrieve(make([]byte, 1), 0))
	assert.True(t, ch.Idle())
	assert.False(t, c.Idle())

	assert.ErrorIs(t, ch.Restore([]byte{0x55}), domain.ErrProtocol)
}
