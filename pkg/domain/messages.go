package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Transform is the pose of a drawn asset. Rotation is a quaternion (x, y, z, w).
type Transform struct {
	Position [3]float32 `json:"position"`
	Scale    [3]float32 `json:"scale"`
	Rotation [4]float32 `json:"rotation"`
}

// MarshalJSON writes the pose as numbers. Non-finite components, which
// guests may legally produce, are written as the strings "NaN", "+Inf" and
// "-Inf".
func (t Transform) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonTransform{
		Position: [3]jsonFloat{jsonFloat(t.Position[0]), jsonFloat(t.Position[1]), jsonFloat(t.Position[2])},
		Scale:    [3]jsonFloat{jsonFloat(t.Scale[0]), jsonFloat(t.Scale[1]), jsonFloat(t.Scale[2])},
		Rotation: [4]jsonFloat{jsonFloat(t.Rotation[0]), jsonFloat(t.Rotation[1]), jsonFloat(t.Rotation[2]), jsonFloat(t.Rotation[3])},
	})
}

// UnmarshalJSON accepts what MarshalJSON writes.
func (t *Transform) UnmarshalJSON(b []byte) error {
	var v jsonTransform
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	for i, f := range v.Position {
		t.Position[i] = float32(f)
	}
	for i, f := range v.Scale {
		t.Scale[i] = float32(f)
	}
	for i, f := range v.Rotation {
		t.Rotation[i] = float32(f)
	}
	return nil
}

type jsonTransform struct {
	Position [3]jsonFloat `json:"position"`
	Scale    [3]jsonFloat `json:"scale"`
	Rotation [4]jsonFloat `json:"rotation"`
}

type jsonFloat float32

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(float32(f))
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"NaN"`:
		*f = jsonFloat(math.NaN())
		return nil
	case `"+Inf"`:
		*f = jsonFloat(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = jsonFloat(math.Inf(-1))
		return nil
	}
	var v float32
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

// IdentityTransform places an asset at the origin, unscaled and unrotated.
var IdentityTransform = Transform{
	Scale:    [3]float32{1, 1, 1},
	Rotation: [4]float32{0, 0, 0, 1},
}

// Request is a guest-to-host message sent over the dispatch channel.
// The set of implementations is closed.
type Request interface {
	// Kind is a stable lowercase label, used for metrics and logs.
	Kind() string
	isRequest()
}

// DrawRequest asks the host to draw an asset at the end of the tick.
type DrawRequest struct {
	Asset     string
	Transform Transform
}

// PlayRequest asks the host to play a sound asset.
type PlayRequest struct {
	Asset string
}

// ExitRequest asks the host to shut the game down.
type ExitRequest struct{}

// PollRequest fetches the next Response the host pre-seeded with Send.
type PollRequest struct{}

// TimeRequest asks for the tick clock.
type TimeRequest struct{}

// LogRequest writes a message to the host log. It has no effect on game state.
type LogRequest struct {
	Message string
}

func (DrawRequest) Kind() string { return "draw" }
func (PlayRequest) Kind() string { return "play" }
func (ExitRequest) Kind() string { return "exit" }
func (PollRequest) Kind() string { return "poll" }
func (TimeRequest) Kind() string { return "time" }
func (LogRequest) Kind() string  { return "log" }

func (DrawRequest) isRequest() {}
func (PlayRequest) isRequest() {}
func (ExitRequest) isRequest() {}
func (PollRequest) isRequest() {}
func (TimeRequest) isRequest() {}
func (LogRequest) isRequest()  {}

// Response is a host-to-guest reply. The set of implementations is closed.
type Response interface {
	Kind() string
	isResponse()
}

// EmptyResponse is the default acknowledgement.
type EmptyResponse struct{}

// TimeResponse carries the index of the running tick and its delta.
type TimeResponse struct {
	Tick  uint64
	Delta time.Duration
}

// EventResponse delivers one player input.
type EventResponse struct {
	Event PlayerEvent
}

func (EmptyResponse) Kind() string { return "empty" }
func (TimeResponse) Kind() string  { return "time" }
func (EventResponse) Kind() string { return "event" }

func (EmptyResponse) isResponse() {}
func (TimeResponse) isResponse()  {}
func (EventResponse) isResponse() {}

// EventKind is the type of a player input.
type EventKind uint8

const (
	EventPress EventKind = iota
	EventRelease
	EventMove
)

func (k EventKind) String() string {
	switch k {
	case EventPress:
		return "press"
	case EventRelease:
		return "release"
	case EventMove:
		return "move"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	if k > EventMove {
		return nil, fmt.Errorf("unknown event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "press":
		*k = EventPress
	case "release":
		*k = EventRelease
	case "move":
		*k = EventMove
	default:
		return fmt.Errorf("unknown event kind %q", b)
	}
	return nil
}

// PlayerEvent is an input from one player: a key or button (Code) being
// pressed or released, or a pointer moving to (X, Y).
type PlayerEvent struct {
	Player uint32    `json:"player"`
	Kind   EventKind `json:"kind"`
	Code   uint32    `json:"code,omitempty"`
	X      float32   `json:"x,omitempty"`
	Y      float32   `json:"y,omitempty"`
}

// Call is a host-bound effect accumulated during a tick and returned by
// RunTick in emission order. The set of implementations is closed.
type Call interface {
	Kind() string
	isCall()
}

// DrawCall draws Asset with the given pose.
type DrawCall struct {
	Asset     string    `json:"asset"`
	Transform Transform `json:"transform"`
}

// PlayCall plays a sound asset.
type PlayCall struct {
	Asset string `json:"asset"`
}

// ExitCall requests shutdown.
type ExitCall struct{}

func (DrawCall) Kind() string { return "draw" }
func (PlayCall) Kind() string { return "play" }
func (ExitCall) Kind() string { return "exit" }

func (DrawCall) isCall() {}
func (PlayCall) isCall() {}
func (ExitCall) isCall() {}

// MarshalJSON tags the call with its kind so that a list of calls can be decoded.
func (c DrawCall) MarshalJSON() ([]byte, error) {
	type plain DrawCall
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{c.Kind(), plain(c)})
}

func (c PlayCall) MarshalJSON() ([]byte, error) {
	type plain PlayCall
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{c.Kind(), plain(c)})
}

func (c ExitCall) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"exit"}`), nil
}

// UnmarshalCall decodes one JSON call produced by MarshalJSON.
func UnmarshalCall(data []byte) (Call, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "draw":
		var c DrawCall
		err := json.Unmarshal(data, &c)
		return c, err
	case "play":
		var c PlayCall
		err := json.Unmarshal(data, &c)
		return c, err
	case "exit":
		return ExitCall{}, nil
	}
	return nil, fmt.Errorf("unknown call type %q", head.Type)
}

// CallFor maps an effect request to the call the host will perform.
// Requests that are answered inside the sandbox return ok=false.
func CallFor(req Request) (Call, bool) {
	switch r := req.(type) {
	case DrawRequest:
		return DrawCall{Asset: r.Asset, Transform: r.Transform}, true
	case PlayRequest:
		return PlayCall{Asset: r.Asset}, true
	case ExitRequest:
		return ExitCall{}, true
	}
	return nil, false
}
