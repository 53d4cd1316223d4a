// Package shutdown coordinates graceful process termination.
//
// A Handler collects named hooks and runs them in reverse registration
// order once SIGINT or SIGTERM arrives, Trigger is called, or the parent
// context ends. All hooks share one deadline. SIGHUP runs reload hooks
// without stopping the process.
//
// Usage:
//
//	h := shutdown.NewHandler(10*time.Second, shutdown.WithLogger(log))
//	h.OnShutdown("routes", mgr.Shutdown)
//	h.OnReload(reloadConfig)
//	err := h.Wait(ctx)
package shutdown
