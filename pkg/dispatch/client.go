package dispatch

import (
	"fmt"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
)

// Host is the guest's view of the handshake.
type Host interface {
	// Submit posts an encoded request and returns the response length.
	Submit(req []byte) (int, error)
	// Retrieve copies the pending response into buf, which must be exactly
	// as long as Submit reported.
	Retrieve(buf []byte) error
}

// Client is the guest end: it encodes a request, runs both handshake
// phases and decodes the answer.
type Client struct {
	host Host
	buf  []byte
}

// NewClient returns a client talking to h.
func NewClient(h Host) *Client { return &Client{host: h} }

// Dispatch sends req and returns the host's response. Response bytes that
// do not decode are a *domain.ProtocolError; there is no renegotiation.
func (c *Client) Dispatch(req domain.Request) (domain.Response, error) {
	b, err := wire.EncodeRequest(c.buf[:0], req)
	if err != nil {
		return nil, err
	}
	c.buf = b
	n, err := c.host.Submit(b)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", req.Kind(), err)
	}
	if n < 0 {
		return nil, &domain.ProtocolError{Reason: fmt.Sprintf("negative response length %d", n)}
	}
	out := make([]byte, n)
	if err := c.host.Retrieve(out); err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", req.Kind(), err)
	}
	resp, err := wire.DecodeResponse(out)
	if err != nil {
		return nil, fmt.Errorf("response to %s: %w", req.Kind(), err)
	}
	return resp, nil
}

// LocalHost connects a Client directly to a Provider in the same process,
// through a real Channel. Request and response buffers are treated as the
// guest memory for each phase.
type LocalHost struct {
	Channel  Channel
	Provider Provider
}

func (h *LocalHost) Submit(req []byte) (int, error) {
	n, err := h.Channel.Submit(req, 0, uint32(len(req)), h.Provider)
	return int(n), err
}

func (h *LocalHost) Retrieve(buf []byte) error {
	if p := h.Channel.Pending(); p != nil && len(p) != len(buf) {
		return misuse("retrieve buffer of %d bytes for a %d byte response", len(buf), len(p))
	}
	return h.Channel.Retrieve(buf, 0)
}
