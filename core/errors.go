// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to map failures onto
// responses, such as the CLI exit path.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidInput is a missing or malformed argument.
	KindInvalidInput
	// KindEmptyExtraction means an upload produced no usable text.
	KindEmptyExtraction
	// KindNoDocumentSelected means scope resolution found nothing to ask about.
	KindNoDocumentSelected
	// KindProviderFailure is an embedding or generation backend error.
	KindProviderFailure
	// KindStoreFailure is a persistence error.
	KindStoreFailure
	// KindNotFound means a referenced document or log does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindEmptyExtraction:
		return "empty_extraction"
	case KindNoDocumentSelected:
		return "no_document_selected"
	case KindProviderFailure:
		return "provider_failure"
	case KindStoreFailure:
		return "store_failure"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Domain validation errors
var (
	// ErrEmptyInput indicates ingestion was given blank text.
	ErrEmptyInput = errors.New("no text provided")

	// ErrNoExtractableText indicates an upload yielded no text.
	ErrNoExtractableText = errors.New("no extractable text")

	// ErrNoDocumentSelected indicates no scope could be resolved for a question.
	ErrNoDocumentSelected = errors.New("no document selected")

	// ErrEmptyQuestion indicates a blank question or query.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrInvalidScope indicates a malformed document identifier.
	ErrInvalidScope = errors.New("invalid document id")

	// ErrUnsupportedFile indicates an upload whose type cannot be ingested.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrDocumentNotFound indicates a referenced document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrGenerationFailed is the caller-facing message for a generation error.
	// The underlying cause is recorded in the query log only.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrMalformedRecord indicates a stored record could not be decoded.
	ErrMalformedRecord = errors.New("malformed record")
)

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with kind and op.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err as kind unless it already carries a Kind, in which case
// the original classification wins. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(kind, op, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
