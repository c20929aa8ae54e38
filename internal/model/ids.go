// Package model defines the core value types of the Account Synchronizer's
// data model: identifiers, update sequence numbers, and timestamps. These
// are leaf types with zero dependencies beyond stdlib and google/uuid,
// following the normalized value-type wrapper idiom (explicit zero value,
// MarshalText/UnmarshalText for JSON round-trip).
package model

import (
	"encoding"
	"fmt"

	"github.com/google/uuid"
)

// guidLength is the fixed length of a server-assigned Guid.
const guidLength = 36

// UserId is a stable integer identifier for a user account, immutable once
// known.
type UserId int32

// Guid is a globally unique item identifier assigned by the remote service.
// The zero value Guid("") represents "not yet assigned" — items created
// locally carry only a LocalId until the first successful send.
type Guid string

// IsZero reports whether g is unassigned.
func (g Guid) IsZero() bool {
	return g == ""
}

// Validate reports an error if g is non-empty but not a well-formed Guid.
// A Guid is immutable once assigned; malformed Guids are rejected rather
// than silently accepted, per the "Invalid argument" error kind.
func (g Guid) Validate() error {
	if g == "" {
		return nil
	}

	if len(g) != guidLength {
		return fmt.Errorf("model: guid %q must be %d characters, got %d", string(g), guidLength, len(g))
	}

	return nil
}

// LocalId is a client-side identifier, assigned at item creation time and
// stable for the item's lifetime, independent of whether a Guid has been
// assigned.
type LocalId string

// NewLocalId generates a fresh, globally-unique LocalId.
func NewLocalId() LocalId {
	return LocalId(uuid.NewString())
}

// IsZero reports whether id is the unset LocalId.
func (id LocalId) IsZero() bool {
	return id == ""
}

// USN is a monotonically increasing update sequence number, assigned by the
// remote service to each successful mutation within a shard.
type USN int32

// IsZero reports whether u represents "never synchronized" (USN 0).
func (u USN) IsZero() bool {
	return u == 0
}

// Max returns the greater of u and other.
func (u USN) Max(other USN) USN {
	if other > u {
		return other
	}

	return u
}

// Timestamp is milliseconds since the Unix epoch, the wire format for all
// time values exchanged with the remote service.
type Timestamp int64

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// MarshalText implements encoding.TextMarshaler for Guid.
func (g Guid) MarshalText() ([]byte, error) {
	return []byte(g), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for Guid.
func (g *Guid) UnmarshalText(text []byte) error {
	candidate := Guid(text)
	if err := candidate.Validate(); err != nil {
		return err
	}

	*g = candidate

	return nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = Guid("")
	_ encoding.TextUnmarshaler = (*Guid)(nil)
	_ fmt.Stringer             = Guid("")
)

// String implements fmt.Stringer for Guid.
func (g Guid) String() string {
	return string(g)
}
