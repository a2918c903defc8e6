// Package dispatch implements the two-phase handshake that carries requests
// from a guest to its host and responses back.
//
// The guest writes an encoded request into its own memory and submits
// (pointer, length). The host decodes it, asks a Provider for the response,
// keeps the encoded response pending and returns its length. The guest then
// allocates exactly that many bytes and retrieves the response into them.
// At most one response is pending at a time.
package dispatch

import (
	"fmt"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
)

// Provider answers guest requests on behalf of the host.
type Provider interface {
	Provide(req domain.Request) domain.Response
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(domain.Request) domain.Response

func (f ProviderFunc) Provide(req domain.Request) domain.Response { return f(req) }

// Channel is the host end of the handshake. The zero value has nothing pending.
// A Channel is not safe for concurrent use.
type Channel struct {
	pending []byte
	busy    bool
}

func misuse(format string, args ...any) *domain.TickError {
	return domain.NewTickError(domain.TickMisuse, format, args...)
}

// Submit decodes the request at mem[ptr:ptr+n], answers it with p and
// returns the length of the encoded response now pending.
func (c *Channel) Submit(mem []byte, ptr, n uint32, p Provider) (uint32, error) {
	if c.busy {
		return 0, misuse("submit while a %d byte response is pending", len(c.pending))
	}
	end := uint64(ptr) + uint64(n)
	if end > uint64(len(mem)) {
		return 0, misuse("request buffer %d+%d outside memory of %d bytes", ptr, n, len(mem))
	}
	req, err := wire.DecodeRequest(mem[ptr:end])
	if err != nil {
		te := misuse("undecodable request")
		te.Err = err
		return 0, te
	}
	resp := p.Provide(req)
	if resp == nil {
		resp = domain.EmptyResponse{}
	}
	out, err := wire.EncodeResponse(c.pending[:0], resp)
	if err != nil {
		return 0, fmt.Errorf("encode response: %w", err)
	}
	c.pending = out
	c.busy = true
	return uint32(len(out)), nil
}

// Retrieve copies the pending response into mem at ptr and clears it.
func (c *Channel) Retrieve(mem []byte, ptr uint32) error {
	if !c.busy {
		return misuse("retrieve with no pending response")
	}
	end := uint64(ptr) + uint64(len(c.pending))
	if end > uint64(len(mem)) {
		return misuse("response buffer %d+%d outside memory of %d bytes", ptr, len(c.pending), len(mem))
	}
	copy(mem[ptr:end], c.pending)
	c.busy = false
	return nil
}

// Pending returns a copy of the outstanding response, or nil.
func (c *Channel) Pending() []byte {
	if !c.busy {
		return nil
	}
	return append([]byte{}, c.pending...)
}

// Idle reports whether no response is outstanding.
func (c *Channel) Idle() bool { return !c.busy }

// Restore makes b the pending response. A nil b leaves the channel idle.
func (c *Channel) Restore(b []byte) error {
	if b == nil {
		c.pending, c.busy = c.pending[:0], false
		return nil
	}
	if _, err := wire.DecodeResponse(b); err != nil {
		return err
	}
	c.pending = append(c.pending[:0], b...)
	c.busy = true
	return nil
}

// Clone returns an independent copy of the channel.
func (c *Channel) Clone() *Channel {
	return &Channel{pending: append([]byte(nil), c.pending...), busy: c.busy}
}
