package dbwriter

import "errors"

// Writer-level failure modes from spec.md §4.6/§7.
var (
	ErrUpstreamScriptError       = errors.New("dbwriter: upstream script reported failure")
	ErrMalformedTransformResult  = errors.New("dbwriter: malformed transform result")
	ErrMissingColumn             = errors.New("dbwriter: row is missing a declared column")
	ErrTypeMismatch              = errors.New("dbwriter: value cannot be coerced to declared column type")
	ErrConnectionAcquire         = errors.New("dbwriter: failed to acquire a connection")
	ErrStatementPrepare          = errors.New("dbwriter: failed to prepare statement")
	ErrStatementExecute          = errors.New("dbwriter: failed to execute statement")
	ErrUnknownColumnType         = errors.New("dbwriter: unknown declared column type")
)
