package metadata

import "fmt"

// ParseErrorKind distinguishes document shape errors from other failures.
type ParseErrorKind int

const (
	DocumentShape ParseErrorKind = iota + 1
	ParseFailure
)

const (
	msgDocumentShape = "Invalid metadata format: no sources found"
	msgParseFailed   = "Failed to parse metadata"
)

// Sentinels for errors.Is; any *ParseError of the same kind matches.
var (
	ErrDocumentShape = &ParseError{Kind: DocumentShape, Message: msgDocumentShape}
	ErrParseFailed   = &ParseError{Kind: ParseFailure, Message: msgParseFailed}
)

// ParseError is recorded on an Index whose document could not be parsed.
//
// The underlying structural problem (if any) can be accessed via errors.Unwrap.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
	cause   error
}

func (e *ParseError) Error() string {
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.cause }

func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// Detail returns the message with the underlying cause, for logs.
func (e *ParseError) Detail() string {
	if e.cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.cause)
}

func shapeError() *ParseError {
	return &ParseError{Kind: DocumentShape, Message: msgDocumentShape}
}

func parseFailure(cause error) *ParseError {
	return &ParseError{Kind: ParseFailure, Message: msgParseFailed, cause: cause}
}
