package sandbox

import (
	"errors"
	"fmt"
	"math"

	"github.com/aretw0/tickvm/internal/vm"
	"github.com/aretw0/tickvm/pkg/dispatch"
	"github.com/aretw0/tickvm/pkg/domain"
)

// initFuel bounds a module's init code, which only has to register its entry.
const initFuel = 1 << 16

// Instance is one guest task plus the host end of its dispatch channel.
// It is strictly sequential and not safe for concurrent use.
type Instance struct {
	m  *vm.Machine
	ch *dispatch.Channel
}

// NewInstance decodes code and prepares its task, for hosts that want to
// drive Step with their own Provider instead of using a Runtime. fuel is the
// instruction budget for the task's whole life.
func NewInstance(code []byte, fuel int64) (*Instance, error) {
	mod, err := vm.Decode(code)
	if err != nil {
		return nil, err
	}
	in, err := newInstance(mod)
	if err != nil {
		return nil, err
	}
	in.m.Refuel(fuel)
	return in, nil
}

// newInstance runs the module's init code and positions the task at the
// registered entry. The entry itself has not run yet.
func newInstance(mod *vm.Module) (*Instance, error) {
	m := vm.New(mod)
	m.Refuel(initFuel)
	ev, err := m.Run()
	if err != nil {
		return nil, &domain.LoadError{Reason: "init code faulted", Err: err}
	}
	if ev.Kind != vm.EventHalt && ev.Kind != vm.EventReturn {
		return nil, &domain.LoadError{Reason: "init code suspended instead of halting"}
	}
	if err := m.Start(); err != nil {
		return nil, &domain.LoadError{Reason: "entry point", Err: err}
	}
	return &Instance{m: m, ch: &dispatch.Channel{}}, nil
}

// Step resumes the task until it suspends. A yield returns its reason. A
// submit or retrieve is resolved against p before Step returns WaitRequest,
// so the guest always resumes with the handshake phase complete.
func (in *Instance) Step(p dispatch.Provider) (domain.WaitReason, error) {
	ev, err := in.m.Run()
	if err != nil {
		var f *vm.Fault
		if errors.As(err, &f) {
			kind := domain.TickTrap
			if f.Kind == vm.FaultExhausted {
				kind = domain.TickExhausted
			}
			return 0, &domain.TickError{Kind: kind, PC: f.PC, Reason: f.Reason}
		}
		return 0, err
	}

	switch ev.Kind {
	case vm.EventYield:
		if ev.Value < math.MinInt32 || ev.Value > math.MaxInt32 {
			return 0, in.misuse(fmt.Errorf("yield value %d out of range", ev.Value))
		}
		w, err := domain.WaitReasonFromRaw(int32(ev.Value))
		if err != nil {
			return 0, in.misuse(err)
		}
		if w == domain.WaitRequest {
			return 0, in.misuse(errors.New("request waits are produced by submit and retrieve, not yield"))
		}
		return w, nil

	case vm.EventSubmit:
		n, err := in.ch.Submit(in.m.Memory(), ev.Ptr, ev.Len, p)
		if err != nil {
			return 0, in.at(err)
		}
		if err := in.m.Push(int64(n)); err != nil {
			return 0, in.misuse(err)
		}
		return domain.WaitRequest, nil

	case vm.EventRetrieve:
		if err := in.ch.Retrieve(in.m.Memory(), ev.Ptr); err != nil {
			return 0, in.at(err)
		}
		return domain.WaitRequest, nil
	}

	return 0, &domain.TickError{Kind: domain.TickExited, PC: in.m.PC() - 1, Reason: "guest task finished"}
}

func (in *Instance) misuse(err error) *domain.TickError {
	return &domain.TickError{Kind: domain.TickMisuse, PC: in.m.PC() - 1, Reason: err.Error()}
}

// at stamps the faulting pc on errors raised by the channel.
func (in *Instance) at(err error) error {
	var te *domain.TickError
	if errors.As(err, &te) {
		te.PC = in.m.PC() - 1
		return te
	}
	return &domain.TickError{Kind: domain.TickMisuse, PC: in.m.PC() - 1, Reason: "host failure", Err: err}
}

func (in *Instance) clone() *Instance {
	return &Instance{m: in.m.Clone(), ch: in.ch.Clone()}
}

// MemorySize is the size in bytes of the guest's linear memory.
func (in *Instance) MemorySize() int { return len(in.m.Memory()) }
