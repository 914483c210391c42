package ratelimit

import (
	"strconv"

	"github.com/google/uuid"
)

// keyKind discriminates the Key union.
type keyKind uint8

const (
	keyInvalid keyKind = iota
	keyString
	keyInt
	keyUint
	keyUUID
)

// Key identifies the subject of a rate limit rule: an API key, a user ID,
// an IP address. It is an opaque identifier; the pipeline only renders it to
// the store's argument encoding and to display strings.
//
// Exactly one variant is populated. The zero Key is invalid and must not be
// placed in a Rule.
type Key struct {
	kind keyKind
	s    string
	i    int64
	u    uint64
	id   uuid.UUID
}

// StringKey returns a Key holding a text identifier.
func StringKey(v string) Key {
	return Key{kind: keyString, s: v}
}

// IntKey returns a Key holding a signed integer identifier.
func IntKey(v int64) Key {
	return Key{kind: keyInt, i: v}
}

// UintKey returns a Key holding an unsigned integer identifier.
func UintKey(v uint64) Key {
	return Key{kind: keyUint, u: v}
}

// UUIDKey returns a Key holding a UUID identifier.
func UUIDKey(v uuid.UUID) Key {
	return Key{kind: keyUUID, id: v}
}

// IsZero reports whether the Key holds no variant.
func (k Key) IsZero() bool {
	return k.kind == keyInvalid
}

// String renders the key both for display and for the store argument
// encoding. Redis arguments are bulk strings, so the decimal rendering of an
// integer key is byte-identical to sending the integer itself.
func (k Key) String() string {
	switch k.kind {
	case keyString:
		return k.s
	case keyInt:
		return strconv.FormatInt(k.i, 10)
	case keyUint:
		return strconv.FormatUint(k.u, 10)
	case keyUUID:
		return k.id.String()
	default:
		return ""
	}
}
