package align

import "errors"

// ErrAlignmentInput is returned when the aligner receives an empty token
// stream or an empty segment list.
var ErrAlignmentInput = errors.New("align: empty alignment input")

// ErrInvalidConfig is returned when the resolved tuning fails
// [Config.Validate].
var ErrInvalidConfig = errors.New("align: invalid config")
