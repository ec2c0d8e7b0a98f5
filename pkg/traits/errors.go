// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package traits

import (
	"fmt"
	"time"
)

// Kind classifies the errors the core surfaces to its caller. Callers that
// need to distinguish transient transport trouble from fatal setup errors
// should switch on Kind rather than string-matching Error().
type Kind int

const (
	KindConnectionFailed Kind = iota
	KindTransportWrite
	KindTransportRead
	KindTimeout
	KindAutoResumeNotEnabled
	KindIO
	KindSerialize
	KindCommandLine
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindTransportWrite:
		return "TransportWrite"
	case KindTransportRead:
		return "TransportRead"
	case KindTimeout:
		return "Timeout"
	case KindAutoResumeNotEnabled:
		return "AutoResumeNotEnabled"
	case KindIO:
		return "Io"
	case KindSerialize:
		return "Serialize"
	case KindCommandLine:
		return "CommandLine"
	default:
		return "Custom"
	}
}

// Error is the core's uniform error type. It wraps an optional underlying
// cause so callers can still use errors.Is/errors.As against it.
type Error struct {
	Kind    Kind
	Msg     string
	Elapsed time.Duration // only meaningful for KindTimeout
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindTimeout {
		return fmt.Sprintf("%s: timed out after %s", e.Kind, e.Elapsed)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func ConnectionFailed(msg string) error {
	return &Error{Kind: KindConnectionFailed, Msg: msg}
}

func TransportWrite(err error) error {
	return &Error{Kind: KindTransportWrite, Msg: "write failed", Err: err}
}

func TransportRead(err error) error {
	return &Error{Kind: KindTransportRead, Msg: "read failed", Err: err}
}

func Timeout(elapsed time.Duration) error {
	return &Error{Kind: KindTimeout, Elapsed: elapsed}
}

func AutoResumeNotEnabled(outputDir string) error {
	return &Error{Kind: KindAutoResumeNotEnabled, Msg: fmt.Sprintf("output directory %q already exists", outputDir)}
}

func IO(msg string, err error) error {
	return &Error{Kind: KindIO, Msg: msg, Err: err}
}

func Serialize(msg string, err error) error {
	return &Error{Kind: KindSerialize, Msg: msg, Err: err}
}

func CommandLine(msg string) error {
	return &Error{Kind: KindCommandLine, Msg: msg}
}

func Custom(msg string) error {
	return &Error{Kind: KindCustom, Msg: msg}
}

// Is lets errors.Is(err, &traits.Error{Kind: traits.KindTimeout}) style
// checks work by matching on Kind when both sides are *Error. Most callers should instead type
// assert to *Error and inspect Kind directly.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
