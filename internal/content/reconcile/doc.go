// Package reconcile keeps mutually referencing content documents consistent
// after a publish.
//
// Relationships
//
//	Director.works      <- DirectorWork.director      derived + manual
//	Project.director    <- Director.works             first director wins
//	Project.services    <-> Service.projects          symmetric
//	Project.subServices <-> SubService.projects       symmetric
//	Service.subServices <-> SubService.services       symmetric
//
// Every derived array is rebuilt from the published graph only, so a draft
// never leaks a reference. Array items are keyed by the referenced id, which
// makes a second run over an unchanged graph write nothing.
//
// Usage
//
//	routes := reconcile.DefaultRoutes(db, logger, 4)
//	dispatcher := reconcile.NewDispatcher(routes, logger)
//
//	report, err := dispatcher.Dispatch(ctx, published, draft)
//	if err != nil {
//	    logger.Warn("reconcile incomplete", "error", err)
//	}
//
// Failure model
//
// Reads happen before writes within each step. A failed read aborts that
// reconciler; a failed counterpart patch is logged and recorded, and the
// remaining counterparts are still patched. Nothing is retried; a later
// publish or "refsync reconcile all" repairs what was missed.
package reconcile
