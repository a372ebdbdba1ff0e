// Package document parses subscription documents (Clash YAML, SSD JSON,
// SingBox JSON, Surge/Quantumult/QuanX/Loon INI-like, SIP008 JSON, and
// base64 link lists) into the canonical node model, and autodetects which
// format a fetched body is in.
package document

import (
	"fmt"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func newParseError(format, sourceURL, snippet, code, message string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_document:" + format,
			URL:     sourceURL,
			Snippet: snippet,
		},
		Cause: cause,
	}
}
