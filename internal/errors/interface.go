// Package errors carries padctl's error taxonomy. Every failure crossing a
// package boundary has an ErrorCode; callers branch on the code, never on the
// message text.
package errors

// ErrorCode identifies one kind of failure, e.g. "invalid_transition".
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Error is a coded error. Two Errors with the same code match under Is.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Is(target error) bool
	Unwrap() error
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
