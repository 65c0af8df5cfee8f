package table

import "fmt"

// Kind classifies table service failures. Together with the message it is
// the structured information callers classify errors by.
type Kind int

const (
	KindGeneric Kind = iota
	KindTransaction
	KindNotFound
	KindInvalidArgument
	KindSchemaMismatch
	KindStorage
	KindCorruptLog
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "Generic error"
	case KindTransaction:
		return "Transaction error"
	case KindNotFound:
		return "Not found"
	case KindInvalidArgument:
		return "Invalid argument"
	case KindSchemaMismatch:
		return "Schema mismatch"
	case KindStorage:
		return "Storage error"
	case KindCorruptLog:
		return "Corrupt log"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
