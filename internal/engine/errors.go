package engine

// ValidationError marks malformed or missing input. Terminal for the
// requested operation; never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(msg string) error { return &ValidationError{Msg: msg} }

// IllegalStateError marks a transition attempted from a state that does not
// permit it.
type IllegalStateError struct {
	Msg string
}

func (e *IllegalStateError) Error() string { return e.Msg }

func illegalf(msg string) error { return &IllegalStateError{Msg: msg} }
