// Package asyncinit provides a startup manager for asynchronous initialization units, with priority tiers,
// concurrency within each tier and a single cancellation scope for the whole run.
//
// Quick Start
//
//	units := []asyncinit.Unit{db, cache, web}
//	decls := []asyncinit.Declaration{
//		{Type: "Database", Priority: -1}, // Before undeclared units.
//		{Type: "Web", Priority: 1},       // After them.
//	}
//
//	mgr := asyncinit.New(units, decls, asyncinit.WithHierarchy(hierarchy))
//	if err := mgr.Start(ctx); err != nil {
//		// Conflicting priorities or a duplicate unit.
//	}
//
//	// Start doesn't block. Wait for the run, or poll mgr.Status().
//	if err := mgr.Wait(); err != nil {
//		// A unit failed; later tiers never started.
//	}
//
//	// On shutdown:
//	mgr.Stop()
//
// Units without a matching declaration get priority 0. Units sharing a priority run concurrently, and a tier only
// starts once every unit of the previous tier has finished. Cancellation, through Stop or the context passed to
// Start, is cooperative: units are expected to return once their context is done, and doing so is not an error.
package asyncinit
