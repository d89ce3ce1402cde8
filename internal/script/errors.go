package script

import "errors"

// Fatal/per-submission errors from spec.md §4.5.
var (
	ErrScriptLoadFailed  = errors.New("script: load failed")
	ErrScriptExecFailed  = errors.New("script: execution failed")
	ErrResultParseFailed = errors.New("script: result is not a well-formed transform result")
	ErrWorkerDied        = errors.New("script: worker panicked")
)
