package expr

// ErrorKind classifies expression failures.
type ErrorKind string

const (
	ErrParse       ErrorKind = "parse_error"
	ErrUnknownName ErrorKind = "unknown_name"
	ErrType        ErrorKind = "type_error"
	ErrDivByZero   ErrorKind = "division_by_zero"
)

// Error is a structured expression error. Evaluation never silently returns
// false on failure; callers decide how to degrade.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Msg
}
