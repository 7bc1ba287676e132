// Package reset rebuilds the active environment from a template dataset.
//
// # Hard Reset
//
// Pipeline.HardReset runs five stages and reports progress before each one:
//
//	LOCK_JOIN             5%  caller goroutine   no I/O
//	UNLOAD_ACTIVE        15%  control loop       Cloner.UnloadSync
//	DELETE_ACTIVE_FILES  35%  background worker  Cloner.DeleteDirectory
//	COPY_TEMPLATE_FILES  65%  background worker  Cloner.CopyDirectory
//	LOAD_ACTIVE          90%  control loop       Cloner.LoadOrCreateSync
//	DONE                100%                     future resolved
//
// Control-loop stages are submitted back to the loop even when the previous stage
// ran on a worker; file stages never run on the loop, so client admission keeps
// working while a template is being copied.
//
// The first failing stage stops the pipeline. No further progress is reported and
// the returned Future resolves with that stage's error, one of *UnloadError,
// *MissingTemplateError, *CopyError, *LoadError or *StageTimeoutError.
//
// # Markers
//
// Copies skip world.LockMarker files and remove world.UIDMarker from the
// destination, so a fresh copy never looks like a duplicate of its template.
package reset
