// Copyright 2026 Stackmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serrors provides errors with additional log context in the form
// of key/value pairs. The context renders both in the error string and,
// via zapcore.ObjectMarshaler, in structured log output. Errors created
// with Wrap support errors.Is and errors.As on their cause.
package serrors

import (
	"bytes"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ctxPair is one item of context info.
type ctxPair struct {
	Key   string
	Value any
}

type basicError struct {
	msg   string
	cause error
	ctx   []ctxPair
}

func (e *basicError) Error() string {
	var buf bytes.Buffer
	buf.WriteString(e.msg)
	if len(e.ctx) != 0 {
		fmt.Fprint(&buf, " {")
		for i, p := range e.ctx {
			if i != 0 {
				fmt.Fprint(&buf, "; ")
			}
			fmt.Fprintf(&buf, "%s=%v", p.Key, p.Value)
		}
		fmt.Fprint(&buf, "}")
	}
	if e.cause != nil {
		fmt.Fprintf(&buf, ": %s", e.cause)
	}
	return buf.String()
}

func (e *basicError) Unwrap() error {
	return e.cause
}

// MarshalLogObject implements zapcore.ObjectMarshaler for a nicer log
// representation.
func (e *basicError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	if e.cause != nil {
		if m, ok := e.cause.(zapcore.ObjectMarshaler); ok {
			if err := enc.AddObject("cause", m); err != nil {
				return err
			}
		} else {
			enc.AddString("cause", e.cause.Error())
		}
	}
	for _, pair := range e.ctx {
		zap.Any(pair.Key, pair.Value).AddTo(enc)
	}
	return nil
}

// New creates an error with the given message and context.
func New(msg string, errCtx ...any) error {
	return &basicError{msg: msg, ctx: mkCtx(errCtx)}
}

// Wrap returns an error that associates the given message with the given
// cause and context. The returned error supports errors.Is: Is(cause)
// returns true.
func Wrap(msg string, cause error, errCtx ...any) error {
	return &basicError{msg: msg, cause: cause, ctx: mkCtx(errCtx)}
}

func mkCtx(errCtx []any) []ctxPair {
	ctx := make([]ctxPair, 0, len(errCtx)/2)
	for i := 0; i+1 < len(errCtx); i += 2 {
		ctx = append(ctx, ctxPair{Key: fmt.Sprint(errCtx[i]), Value: errCtx[i+1]})
	}
	sort.Slice(ctx, func(a, b int) bool {
		return ctx[a].Key < ctx[b].Key
	})
	return ctx
}

