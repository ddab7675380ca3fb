// Package health serves liveness and readiness probes.
//
// Components register checks on a Checker. A check either passes or fails;
// a report also returns details, such as the number of pending prune
// intents of an index, which are published in the readiness response.
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterReport("index:primary", func(ctx context.Context) (map[string]any, error) {
//	    n, err := e.PendingIntents(ctx)
//	    return map[string]any{"pending_intents": n}, err
//	})
//	health.Mount(mux, checker, cfg.Telemetry.Health)
//
// Readiness response:
//
//	{
//	    "status": "ready",
//	    "checks": {
//	        "index:primary": {"status": "ok", "details": {"pending_intents": 0}}
//	    },
//	    "timestamp": "2024-06-01T10:30:00Z"
//	}
//
// Any failing check turns the status to "degraded" and the probe to 503.
package health
