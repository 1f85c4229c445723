package model

import "errors"

// Error classes. Packages wrap these with fmt.Errorf("%w: ...") and callers
// classify with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream unavailable")
	ErrInternal   = errors.New("internal error")
)
