package feedback

import "errors"

// ErrValidation marks malformed feedback input.
var ErrValidation = errors.New("validation error")
