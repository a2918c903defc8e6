/*
Package observability turns runtime lifecycle hooks into Prometheus metrics
and structured log records.

	metrics, _ := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := observability.Combine(metrics.Hooks(), observability.LoggingHooks(logger))
	rt, _ := sandbox.Load(code, sandbox.WithLifecycleHooks(hooks))
*/
package observability
