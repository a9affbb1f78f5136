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

/*
Package errors provides the structured error taxonomy of the page cache.

Every failure that crosses a package boundary is a *PoolError carrying:
  - a numeric ErrorCode for programmatic handling
  - a Category (PAGE, IO, POOL, SCHEDULER, CONFIG)
  - a message, optional detail and operator hint
  - an optional wrapped cause

Propagation Policy:

	┌────────────────────┬───────────────┬──────────────────────────────────┐
	│ Code               │ Retried here? │ Caller action                    │
	├────────────────────┼───────────────┼──────────────────────────────────┤
	│ PageFull           │ no            │ compact, split or new page       │
	│ ChecksumMismatch   │ no            │ hand to corruption recovery      │
	│ IoError transient  │ yes (backoff) │ -                                │
	│ IoError permanent  │ no            │ surface                          │
	│ IoTimeout          │ no            │ surface                          │
	│ PoolExhausted      │ no            │ retry with backoff or give up    │
	│ QueueFull          │ no            │ retry with backoff or give up    │
	└────────────────────┴───────────────┴──────────────────────────────────┘

Sentinel values (ErrPageFull, ErrQueueFull, ...) exist for errors.Is checks.
PoolError.Is compares codes, so a constructed error with extra detail still
matches its sentinel:

	if errors.Is(err, ferrors.ErrPoolExhausted) {
	    time.Sleep(backoff)
	}
*/
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error identifier.
type ErrorCode int

const (
	// Page errors (1000-1999)
	ErrCodePage             ErrorCode = 1000
	ErrCodePageFull         ErrorCode = 1001
	ErrCodeTupleTooLarge    ErrorCode = 1002
	ErrCodeSlotNotFound     ErrorCode = 1003
	ErrCodeInvalidPage      ErrorCode = 1004
	ErrCodeChecksumMismatch ErrorCode = 1005

	// I/O errors (2000-2999)
	ErrCodeIO        ErrorCode = 2000
	ErrCodeIOError   ErrorCode = 2001
	ErrCodeIOTimeout ErrorCode = 2002

	// Pool errors (3000-3999)
	ErrCodePool           ErrorCode = 3000
	ErrCodePoolExhausted  ErrorCode = 3001
	ErrCodePageNotFound   ErrorCode = 3002
	ErrCodeInvalidUnpin   ErrorCode = 3003
	ErrCodePagePinned     ErrorCode = 3004
	ErrCodeAlreadyPresent ErrorCode = 3005
	ErrCodeClosed         ErrorCode = 3006

	// Scheduler errors (4000-4999)
	ErrCodeScheduler ErrorCode = 4000
	ErrCodeQueueFull ErrorCode = 4001

	// Configuration errors (5000-5999)
	ErrCodeConfig        ErrorCode = 5000
	ErrCodeInvalidConfig ErrorCode = 5001
)

// Category represents the error category.
type Category string

const (
	CategoryPage      Category = "PAGE"
	CategoryIO        Category = "IO"
	CategoryPool      Category = "POOL"
	CategoryScheduler Category = "SCHEDULER"
	CategoryConfig    Category = "CONFIG"
)

// PoolError represents a structured page cache error.
type PoolError struct {
	Code      ErrorCode
	Category  Category
	Message   string
	Detail    string
	Hint      string
	Transient bool
	Cause     error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	msg := fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.Category, e.Message)
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PoolError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a PoolError with the same code.
func (e *PoolError) Is(target error) bool {
	t, ok := target.(*PoolError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// UserMessage returns an operator-facing message including the hint.
func (e *PoolError) UserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)
	if e.Detail != "" {
		msg += fmt.Sprintf(" (%s)", e.Detail)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf("\nHINT: %s", e.Hint)
	}
	return msg
}

// WithDetail adds detail to the error.
func (e *PoolError) WithDetail(detail string) *PoolError {
	e.Detail = detail
	return e
}

// WithHint adds a hint to the error.
func (e *PoolError) WithHint(hint string) *PoolError {
	e.Hint = hint
	return e
}

// WithCause adds a cause to the error.
func (e *PoolError) WithCause(cause error) *PoolError {
	e.Cause = cause
	return e
}

// Sentinels for errors.Is. Never mutate these; use the constructors.
var (
	ErrPageFull         = &PoolError{Code: ErrCodePageFull, Category: CategoryPage, Message: "page full"}
	ErrTupleTooLarge    = &PoolError{Code: ErrCodeTupleTooLarge, Category: CategoryPage, Message: "tuple too large"}
	ErrSlotNotFound     = &PoolError{Code: ErrCodeSlotNotFound, Category: CategoryPage, Message: "slot not found"}
	ErrInvalidPage      = &PoolError{Code: ErrCodeInvalidPage, Category: CategoryPage, Message: "invalid page"}
	ErrChecksumMismatch = &PoolError{Code: ErrCodeChecksumMismatch, Category: CategoryPage, Message: "checksum mismatch"}
	ErrIO               = &PoolError{Code: ErrCodeIOError, Category: CategoryIO, Message: "i/o error"}
	ErrIOTimeout        = &PoolError{Code: ErrCodeIOTimeout, Category: CategoryIO, Message: "i/o timeout"}
	ErrPoolExhausted    = &PoolError{Code: ErrCodePoolExhausted, Category: CategoryPool, Message: "buffer pool exhausted"}
	ErrPageNotFound     = &PoolError{Code: ErrCodePageNotFound, Category: CategoryPool, Message: "page not resident"}
	ErrInvalidUnpin     = &PoolError{Code: ErrCodeInvalidUnpin, Category: CategoryPool, Message: "unpin of unpinned page"}
	ErrPagePinned       = &PoolError{Code: ErrCodePagePinned, Category: CategoryPool, Message: "page is pinned"}
	ErrAlreadyPresent   = &PoolError{Code: ErrCodeAlreadyPresent, Category: CategoryPool, Message: "page already present"}
	ErrClosed           = &PoolError{Code: ErrCodeClosed, Category: CategoryPool, Message: "closed"}
	ErrQueueFull        = &PoolError{Code: ErrCodeQueueFull, Category: CategoryScheduler, Message: "i/o queue full"}
	ErrInvalidConfig    = &PoolError{Code: ErrCodeInvalidConfig, Category: CategoryConfig, Message: "invalid configuration"}
)

// ============================================================================
// Page Error Constructors
// ============================================================================

// PageFull creates an error for an insert that does not fit.
func PageFull(need, free int) *PoolError {
	return &PoolError{
		Code:     ErrCodePageFull,
		Category: CategoryPage,
		Message:  "page full",
		Detail:   fmt.Sprintf("need %d bytes, %d free", need, free),
		Hint:     "Compact the page or allocate a new one",
	}
}

// TupleTooLarge creates an error for a tuple that can never fit in a page.
func TupleTooLarge(size, max int) *PoolError {
	return &PoolError{
		Code:     ErrCodeTupleTooLarge,
		Category: CategoryPage,
		Message:  "tuple too large",
		Detail:   fmt.Sprintf("%d bytes, limit %d", size, max),
	}
}

// SlotNotFound creates an error for a missing or deleted slot.
func SlotNotFound(slot int) *PoolError {
	return &PoolError{
		Code:     ErrCodeSlotNotFound,
		Category: CategoryPage,
		Message:  fmt.Sprintf("slot %d not found", slot),
	}
}

// InvalidPage creates an error for a structurally inconsistent page.
func InvalidPage(pageID uint64, detail string) *PoolError {
	return &PoolError{
		Code:     ErrCodeInvalidPage,
		Category: CategoryPage,
		Message:  fmt.Sprintf("invalid page %d", pageID),
		Detail:   detail,
	}
}

// ChecksumMismatch creates an error for a page that failed verification.
func ChecksumMismatch(pageID uint64, stored, computed uint32) *PoolError {
	return &PoolError{
		Code:     ErrCodeChecksumMismatch,
		Category: CategoryPage,
		Message:  fmt.Sprintf("checksum mismatch on page %d", pageID),
		Detail:   fmt.Sprintf("stored %08x, computed %08x", stored, computed),
		Hint:     "The page is corrupt; restore it from backup or WAL",
	}
}

// ============================================================================
// I/O Error Constructors
// ============================================================================

// IOError wraps a backend failure. Transient errors are retried by the
// scheduler; permanent ones are surfaced.
func IOError(op string, offset int64, cause error, transient bool) *PoolError {
	return &PoolError{
		Code:      ErrCodeIOError,
		Category:  CategoryIO,
		Message:   fmt.Sprintf("%s failed", op),
		Detail:    fmt.Sprintf("offset %d", offset),
		Transient: transient,
		Cause:     cause,
	}
}

// IOTimeout creates an error for an operation that exceeded its deadline.
func IOTimeout(op string, pageID uint64) *PoolError {
	return &PoolError{
		Code:     ErrCodeIOTimeout,
		Category: CategoryIO,
		Message:  fmt.Sprintf("%s of page %d timed out", op, pageID),
		Hint:     "Increase io_timeout_ms or check the storage device",
	}
}

// ============================================================================
// Pool Error Constructors
// ============================================================================

// PoolExhausted creates an error for a pool with no evictable frame.
func PoolExhausted(frames int) *PoolError {
	return &PoolError{
		Code:     ErrCodePoolExhausted,
		Category: CategoryPool,
		Message:  "buffer pool exhausted",
		Detail:   fmt.Sprintf("all %d frames pinned or busy", frames),
		Hint:     "Release pins sooner or increase pool_frame_count",
	}
}

// PageNotFound creates an error for a page that is not resident.
func PageNotFound(pageID uint64) *PoolError {
	return &PoolError{
		Code:     ErrCodePageNotFound,
		Category: CategoryPool,
		Message:  fmt.Sprintf("page %d not resident", pageID),
	}
}

// InvalidUnpin creates an error for an unpin that would drive pin count negative.
func InvalidUnpin(pageID uint64) *PoolError {
	return &PoolError{
		Code:     ErrCodeInvalidUnpin,
		Category: CategoryPool,
		Message:  fmt.Sprintf("unpin of page %d with pin count 0", pageID),
	}
}

// PagePinned creates an error for an operation that requires an unpinned page.
func PagePinned(pageID uint64, pins int32) *PoolError {
	return &PoolError{
		Code:     ErrCodePagePinned,
		Category: CategoryPool,
		Message:  fmt.Sprintf("page %d is pinned", pageID),
		Detail:   fmt.Sprintf("pin count %d", pins),
	}
}

// AlreadyPresent creates an error for a duplicate page table insert.
func AlreadyPresent(pageID uint64) *PoolError {
	return &PoolError{
		Code:     ErrCodeAlreadyPresent,
		Category: CategoryPool,
		Message:  fmt.Sprintf("page %d already present", pageID),
	}
}

// Closed creates an error for use of a shut down component.
func Closed(component string) *PoolError {
	return &PoolError{
		Code:     ErrCodeClosed,
		Category: CategoryPool,
		Message:  fmt.Sprintf("%s is closed", component),
	}
}

// ============================================================================
// Scheduler / Config Error Constructors
// ============================================================================

// QueueFull creates a backpressure error for a saturated queue.
func QueueFull(queue string, capacity int) *PoolError {
	return &PoolError{
		Code:     ErrCodeQueueFull,
		Category: CategoryScheduler,
		Message:  fmt.Sprintf("%s queue full", queue),
		Detail:   fmt.Sprintf("capacity %d", capacity),
		Hint:     "Retry with backoff or increase io_queue_capacity",
	}
}

// InvalidConfig creates a configuration validation error.
func InvalidConfig(detail string) *PoolError {
	return &PoolError{
		Code:     ErrCodeInvalidConfig,
		Category: CategoryConfig,
		Message:  "invalid configuration",
		Detail:   detail,
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

// IsTransient reports whether err is an I/O error worth retrying.
func IsTransient(err error) bool {
	var e *PoolError
	if stderrors.As(err, &e) {
		return e.Code == ErrCodeIOError && e.Transient
	}
	return false
}

// IsIOError checks if an error is in the IO category.
func IsIOError(err error) bool {
	return categoryOf(err) == CategoryIO
}

// IsPageError checks if an error is in the PAGE category.
func IsPageError(err error) bool {
	return categoryOf(err) == CategoryPage
}

// IsPoolError checks if an error is in the POOL category.
func IsPoolError(err error) bool {
	return categoryOf(err) == CategoryPool
}

func categoryOf(err error) Category {
	var e *PoolError
	if stderrors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode returns the error code if err wraps a PoolError, or 0 otherwise.
func GetCode(err error) ErrorCode {
	var e *PoolError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// FormatError formats an error for user display.
func FormatError(err error) string {
	var e *PoolError
	if stderrors.As(err, &e) {
		return e.UserMessage()
	}
	return fmt.Sprintf("ERROR: %v", err)
}
