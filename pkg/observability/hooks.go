package observability

import (
	"log/slog"

	"github.com/aretw0/tickvm/pkg/domain"
)

// LoggingHooks logs the end of every tick: failures at error level, the
// rest at debug.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTickEnd: func(e *domain.TickEvent) {
			if e.Err != nil {
				logger.Error("tick_end", "tick", e.Tick, "elapsed", e.Elapsed, "err", e.Err)
				return
			}
			logger.Debug("tick_end", "tick", e.Tick, "calls", e.Calls, "elapsed", e.Elapsed)
		},
	}
}

// Combine returns hooks that invoke each of hooks in order.
func Combine(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	var starts, ends []func(*domain.TickEvent)
	var reqs []func(*domain.RequestEvent)
	for _, h := range hooks {
		if h.OnTickStart != nil {
			starts = append(starts, h.OnTickStart)
		}
		if h.OnTickEnd != nil {
			ends = append(ends, h.OnTickEnd)
		}
		if h.OnRequest != nil {
			reqs = append(reqs, h.OnRequest)
		}
	}

	var out domain.LifecycleHooks
	if len(starts) > 0 {
		out.OnTickStart = func(e *domain.TickEvent) {
			for _, f := range starts {
				f(e)
			}
		}
	}
	if len(ends) > 0 {
		out.OnTickEnd = func(e *domain.TickEvent) {
			for _, f := range ends {
				f(e)
			}
		}
	}
	if len(reqs) > 0 {
		out.OnRequest = func(e *domain.RequestEvent) {
			for _, f := range reqs {
				f(e)
			}
		}
	}
	return out
}
