package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tickvm/internal/logging"
	"github.com/aretw0/tickvm/internal/vm"
	"github.com/aretw0/tickvm/pkg/domain"
)

// DefaultFuelPerTick is the instruction budget of one tick when WithFuel is not given.
const DefaultFuelPerTick = 1_000_000

// Runtime drives one guest tick by tick. It owns the guest state
// exclusively; use Duplicate to branch it. A Runtime is not safe for
// concurrent use, but independent Runtimes may run on separate goroutines.
type Runtime struct {
	program []byte
	inst    *Instance

	tick    uint64
	delta   time.Duration
	effects []domain.Request
	inbox   []domain.Response
	running bool
	fault   error

	fuel   int64
	logger *slog.Logger
	hooks  domain.LifecycleHooks
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for guest log requests and tick diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Runtime) {
		r.hooks = hooks
	}
}

// WithFuel sets the per-tick instruction budget.
func WithFuel(n int64) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.fuel = n
		}
	}
}

func newRuntime(program []byte, inst *Instance, opts []Option) *Runtime {
	r := &Runtime{
		program: program,
		inst:    inst,
		fuel:    DefaultFuelPerTick,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load decodes and validates code, runs its init code, which must register
// exactly one entry, then runs the entry until its first Startup or Present
// suspension. Calls the guest emits before that point are returned by the
// first RunTick. Every failure is a *domain.LoadError.
func Load(code []byte, opts ...Option) (*Runtime, error) {
	mod, err := vm.Decode(code)
	if err != nil {
		return nil, err
	}
	inst, err := newInstance(mod)
	if err != nil {
		return nil, err
	}
	r := newRuntime(append([]byte(nil), code...), inst, opts)

	r.running = true
	defer func() { r.running = false }()
	r.inst.m.Refuel(r.fuel)
	for {
		w, err := r.inst.Step(provider{r})
		if err != nil {
			return nil, &domain.LoadError{Reason: "entry failed before its first suspension", Err: err}
		}
		if w != domain.WaitRequest {
			r.logger.Debug("guest loaded", "wait", w, "pending_calls", len(r.effects))
			return r, nil
		}
	}
}

// RunTick advances the guest by one tick of length dt: it steps the guest,
// answering its requests, until the guest presents. It returns the calls
// the guest emitted, in emission order.
//
// A failure is a *domain.TickError and poisons the runtime: every later
// RunTick returns the same error. Recover by restoring a snapshot.
func (r *Runtime) RunTick(dt time.Duration) ([]domain.Call, error) {
	if r.fault != nil {
		return nil, r.fault
	}
	if r.running {
		return nil, domain.NewTickError(domain.TickMisuse, "RunTick re-entered during a tick")
	}
	r.running = true
	defer func() { r.running = false }()

	started := time.Now()
	r.delta = dt
	if r.hooks.OnTickStart != nil {
		r.hooks.OnTickStart(&domain.TickEvent{
			EventBase: domain.EventBase{Timestamp: started, Type: domain.EventTickStart},
			Tick:      r.tick,
			Delta:     dt,
		})
	}

	r.inst.m.Refuel(r.fuel)
	for {
		w, err := r.inst.Step(provider{r})
		if err != nil {
			return nil, r.poison(err, started)
		}
		if w == domain.WaitStartup {
			return nil, r.poison(&domain.TickError{Kind: domain.TickMisuse, PC: r.inst.m.PC() - 1, Reason: "startup wait after load"}, started)
		}
		if w == domain.WaitPresent {
			break
		}
	}

	calls := make([]domain.Call, 0, len(r.effects))
	for _, req := range r.effects {
		if c, ok := domain.CallFor(req); ok {
			calls = append(calls, c)
		}
	}
	r.effects = r.effects[:0]
	tick := r.tick
	r.tick++

	if r.hooks.OnTickEnd != nil {
		r.hooks.OnTickEnd(&domain.TickEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventTickEnd},
			Tick:      tick,
			Delta:     dt,
			Calls:     len(calls),
			Elapsed:   time.Since(started),
		})
	}
	return calls, nil
}

func (r *Runtime) poison(err error, started time.Time) error {
	var te *domain.TickError
	if !errors.As(err, &te) {
		te = &domain.TickError{Kind: domain.TickMisuse, Reason: "host failure", Err: err}
	}
	te.Tick = r.tick
	r.fault = te
	r.logger.Error("tick failed", "tick", r.tick, "kind", te.Kind.String(), "err", te)
	if r.hooks.OnTickEnd != nil {
		r.hooks.OnTickEnd(&domain.TickEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventTickEnd},
			Tick:      r.tick,
			Delta:     r.delta,
			Elapsed:   time.Since(started),
			Err:       te,
		})
	}
	return te
}

// Send queues a response for the guest to pick up with a poll request.
// Queued responses are delivered in order and survive Serialize.
func (r *Runtime) Send(resp domain.Response) {
	r.inbox = append(r.inbox, resp)
}

// Duplicate returns an independent deep copy. Ticking either copy never
// affects the other. The decoded program is shared, as it is immutable.
func (r *Runtime) Duplicate() (*Runtime, error) {
	if err := r.boundary(); err != nil {
		return nil, err
	}
	d := *r
	d.inst = r.inst.clone()
	d.effects = append([]domain.Request(nil), r.effects...)
	d.inbox = append([]domain.Response(nil), r.inbox...)
	return &d, nil
}

// boundary reports whether the runtime may be serialized or duplicated.
func (r *Runtime) boundary() error {
	if r.running {
		return fmt.Errorf("%w: tick in progress", domain.ErrNotAtBoundary)
	}
	if r.fault != nil {
		return fmt.Errorf("%w: runtime faulted: %v", domain.ErrNotAtBoundary, r.fault)
	}
	return nil
}

// Tick is the number of completed ticks.
func (r *Runtime) Tick() uint64 { return r.tick }

// Fault returns the error that poisoned the runtime, or nil.
func (r *Runtime) Fault() error { return r.fault }

// Program returns the module the runtime was loaded from.
func (r *Runtime) Program() []byte { return r.program }

// Queued is the number of sent responses the guest has not polled yet.
func (r *Runtime) Queued() int { return len(r.inbox) }

// MemorySize is the size in bytes of the guest's linear memory.
func (r *Runtime) MemorySize() int { return r.inst.MemorySize() }

// provider answers guest requests on behalf of its runtime. Effects are
// buffered and turned into calls when the tick ends.
type provider struct{ r *Runtime }

func (p provider) Provide(req domain.Request) domain.Response {
	r := p.r
	if r.hooks.OnRequest != nil {
		r.hooks.OnRequest(&domain.RequestEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventRequest},
			Tick:      r.tick,
			Kind:      req.Kind(),
		})
	}
	switch req := req.(type) {
	case domain.DrawRequest, domain.PlayRequest, domain.ExitRequest:
		r.effects = append(r.effects, req)
	case domain.PollRequest:
		if len(r.inbox) > 0 {
			resp := r.inbox[0]
			r.inbox[0] = nil
			r.inbox = r.inbox[1:]
			return resp
		}
	case domain.TimeRequest:
		return domain.TimeResponse{Tick: r.tick, Delta: r.delta}
	case domain.LogRequest:
		r.logger.Info("guest log", "tick", r.tick, "message", req.Message)
	}
	return domain.EmptyResponse{}
}
