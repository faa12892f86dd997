// Copyright (c) 2020-2025 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package atomic extends go.uber.org/atomic with a []byte container, in the
// style of that library.
package atomic

import (
	"go.uber.org/atomic"
)

// Bytes is an atomic []byte container. Load and Store copy, so neither side
// can mutate what the other holds.
type Bytes struct {
	v atomic.Value
}

// NewBytes creates a Bytes holding a copy of the given slice.
func NewBytes(b []byte) (a *Bytes) {
	a = &Bytes{}
	a.Store(b)
	return
}

// Load returns a copy of the held slice, nil if nothing was stored yet.
func (a *Bytes) Load() (b []byte) {
	v := a.v.Load()
	if v == nil {
		return
	}
	held := v.([]byte)
	if held == nil {
		return
	}
	b = make([]byte, len(held))
	copy(b, held)
	return
}

// Store replaces the held slice with a copy of b.
func (a *Bytes) Store(b []byte) {
	var c []byte
	if b != nil {
		c = make([]byte, len(b))
		copy(c, b)
	}
	a.v.Store(c)
}

// Len returns the length of the held slice without copying it.
func (a *Bytes) Len() (l int) {
	v := a.v.Load()
	if v == nil {
		return
	}
	return len(v.([]byte))
}
