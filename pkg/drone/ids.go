// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import "github.com/google/uuid"

// IDSource generates unique session IDs, which are also used as the broker's client ID.
type IDSource interface {
	NewID() string
}

// IDSourceFunc adapts a function to an IDSource.
type IDSourceFunc func() string

// NewID calls f.
func (f IDSourceFunc) NewID() string {
	return f()
}

// UUIDSource creates random session IDs of a prefix followed by a random UUID.
func UUIDSource(prefix string) IDSource {
	return IDSourceFunc(func() string {
		return prefix + uuid.NewString()
	})
}
