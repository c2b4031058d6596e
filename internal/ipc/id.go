// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package ipc

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// newID returns a request id unique across processes. Each id carries 80
// fresh random bits, so ids minted in the same millisecond are unrelated.
func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
