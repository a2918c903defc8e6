package observability_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/tickvm/internal/logging"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/dsl"
	"github.com/aretw0/tickvm/pkg/observability"
	"github.com/aretw0/tickvm/pkg/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guest() []byte {
	b := dsl.New()
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.Draw("a").Commit()
			f.Play("b").Commit()
			f.Present()
		})
	})
	return b.MustBuild()
}

func TestMetricsHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	rt, err := sandbox.Load(guest(), sandbox.WithLifecycleHooks(m.Hooks()))
	require.NoError(t, err)
	for range 3 {
		_, err := rt.RunTick(time.Millisecond)
		require.NoError(t, err)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Ticks.WithLabelValues("ok")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Calls))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("draw")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("play")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TickDuration))
}

func TestMetricsRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", observability.Result(nil))
	assert.Equal(t, domain.TickExhausted.String(), observability.Result(&domain.TickError{Kind: domain.TickExhausted}))
	assert.Equal(t, "error", observability.Result(assert.AnError))
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	hooks := observability.LoggingHooks(logging.NewWithWriter(&buf, slog.LevelDebug))

	hooks.OnTickEnd(&domain.TickEvent{Tick: 4, Calls: 2})
	hooks.OnTickEnd(&domain.TickEvent{Tick: 5, Err: &domain.TickError{Kind: domain.TickTrap, Reason: "boom"}})

	out := buf.String()
	assert.Contains(t, out, "tick=4")
	assert.Contains(t, out, "calls=2")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "boom")
}

func TestCombineRunsInOrder(t *testing.T) {
	var order []string
	a := domain.LifecycleHooks{OnTickEnd: func(*domain.TickEvent) { order = append(order, "a") }}
	b := domain.LifecycleHooks{
		OnTickEnd: func(*domain.TickEvent) { order = append(order, "b") },
		OnRequest: func(*domain.RequestEvent) { order = append(order, "req") },
	}
	c := observability.Combine(a, b)
	require.Nil(t, c.OnTickStart)
	c.OnTickEnd(&domain.TickEvent{})
	c.OnRequest(&domain.RequestEvent{})
	assert.Equal(t, []string{"a", "b", "req"}, order)
}
