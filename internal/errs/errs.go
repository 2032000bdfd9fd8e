/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package errs holds the error taxonomy surfaced by the engine. Every error
// returned across a component boundary carries a Kind; InvalidState errors
// additionally carry a Code naming the violated transition.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidState           Kind = "INVALID_STATE"
	KindInsufficientBalance    Kind = "INSUFFICIENT_BALANCE"
	KindNotAssociated          Kind = "NOT_ASSOCIATED"
	KindLedgerRejected         Kind = "LEDGER_REJECTED"
	KindLedgerUnavailable      Kind = "LEDGER_UNAVAILABLE"
	KindPersistenceUnavailable Kind = "PERSISTENCE_UNAVAILABLE"
	KindInternal               Kind = "INTERNAL"
)

const (
	CodeInvalidReading = "INVALID_READING"
	CodeNotActive      = "NOT_ACTIVE"
	CodeAlreadyTraded  = "ALREADY_TRADED"
	CodeExpired        = "EXPIRED"
	CodeSelfTrade      = "SELF_TRADE"
	CodeNotOwner       = "NOT_OWNER"
)

// Error is the typed failure returned by engine components.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	label := string(e.Kind)
	if e.Code != "" {
		label = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", label, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", label, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a prototype by Code when the prototype has one, otherwise by Kind.
// errors.Is(err, errs.AlreadyTraded) and errors.Is(err, errs.InvalidState)
// both hold for an already-traded failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// Prototypes for errors.Is.
var (
	InvalidInput           = &Error{Kind: KindInvalidInput}
	NotFound               = &Error{Kind: KindNotFound}
	InvalidState           = &Error{Kind: KindInvalidState}
	InsufficientBalance    = &Error{Kind: KindInsufficientBalance}
	NotAssociated          = &Error{Kind: KindNotAssociated}
	LedgerRejected         = &Error{Kind: KindLedgerRejected}
	LedgerUnavailable      = &Error{Kind: KindLedgerUnavailable}
	PersistenceUnavailable = &Error{Kind: KindPersistenceUnavailable}

	InvalidReading = &Error{Kind: KindInvalidInput, Code: CodeInvalidReading}
	NotActive      = &Error{Kind: KindInvalidState, Code: CodeNotActive}
	AlreadyTraded  = &Error{Kind: KindInvalidState, Code: CodeAlreadyTraded}
	Expired        = &Error{Kind: KindInvalidState, Code: CodeExpired}
	SelfTrade      = &Error{Kind: KindInvalidState, Code: CodeSelfTrade}
	NotOwner       = &Error{Kind: KindInvalidState, Code: CodeNotOwner}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// State builds an InvalidState error carrying code.
func State(code string, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Reading builds an InvalidReading error.
func Reading(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Code: CodeInvalidReading, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether the caller may retry: only unknown-outcome and
// persistence failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLedgerUnavailable, KindPersistenceUnavailable:
		return true
	}
	return false
}
