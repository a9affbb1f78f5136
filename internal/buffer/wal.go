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

package buffer

import (
	"context"

	"pagecache/internal/storage/page"
)

// WAL is the slice of a write-ahead log the pool depends on. A page is
// written only after the log is durable up to the page's LSN.
type WAL interface {
	FlushedLSN() page.LSN
	EnsureFlushedUpTo(ctx context.Context, lsn page.LSN) error
}

// NoWAL is used when pages carry no logged changes.
type NoWAL struct{}

func (NoWAL) FlushedLSN() page.LSN { return ^page.LSN(0) }

func (NoWAL) EnsureFlushedUpTo(context.Context, page.LSN) error { return nil }
