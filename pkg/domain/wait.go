package domain

import "fmt"

// WaitReason says why a guest task suspended. The raw values are part of the
// guest ABI and must not be renumbered.
type WaitReason int32

const (
	// WaitStartup is the suspension before the first tick.
	WaitStartup WaitReason = 0
	// WaitPresent ends a tick.
	WaitPresent WaitReason = 1
	// WaitRequest marks one step of a dispatch handshake.
	WaitRequest WaitReason = 2
)

// WaitReasonFromRaw validates a value produced by guest code.
func WaitReasonFromRaw(raw int32) (WaitReason, error) {
	switch w := WaitReason(raw); w {
	case WaitStartup, WaitPresent, WaitRequest:
		return w, nil
	}
	return 0, fmt.Errorf("unknown wait reason %d", raw)
}

// Raw returns the ABI value.
func (w WaitReason) Raw() int32 { return int32(w) }

func (w WaitReason) String() string {
	switch w {
	case WaitStartup:
		return "startup"
	case WaitPresent:
		return "present"
	case WaitRequest:
		return "request"
	default:
		return fmt.Sprintf("WaitReason(%d)", int32(w))
	}
}
