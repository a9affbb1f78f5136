/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		want     bool
	}{
		{"page full", PageFull(104, 10), ErrPageFull, true},
		{"queue full", QueueFull("read", 1024), ErrQueueFull, true},
		{"wrapped exhausted", fmt.Errorf("pin 7: %w", PoolExhausted(4)), ErrPoolExhausted, true},
		{"different code", QueueFull("write", 1), ErrPoolExhausted, false},
		{"plain error", io.EOF, ErrIO, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stderrors.Is(tt.err, tt.sentinel); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIOErrorUnwrapsCause(t *testing.T) {
	err := IOError("read", 4096, io.ErrUnexpectedEOF, false)
	if !stderrors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if IsTransient(err) {
		t.Error("permanent error reported as transient")
	}
	if !IsTransient(IOError("write", 0, io.ErrShortWrite, true)) {
		t.Error("transient error not reported as transient")
	}
	if !IsIOError(err) {
		t.Error("expected IO category")
	}
}

func TestGetCodeAndFormat(t *testing.T) {
	err := ChecksumMismatch(9, 1, 2)
	if GetCode(err) != ErrCodeChecksumMismatch {
		t.Errorf("GetCode = %d", GetCode(err))
	}
	if GetCode(io.EOF) != 0 {
		t.Error("expected 0 for foreign error")
	}
	msg := FormatError(err)
	if !strings.Contains(msg, "HINT:") {
		t.Errorf("expected hint in %q", msg)
	}
	if !IsPageError(err) || IsPoolError(err) {
		t.Error("wrong category helpers")
	}
}
