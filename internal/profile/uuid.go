package profile

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBase is the Bluetooth SIG base UUID short forms are expanded into.
const sigBase = "-0000-1000-8000-00805f9b34fb"

// myoSuffix is shared by every vendor UUID on the armband.
const myoSuffix = "-a904-deb9-4748-2c7f4a124842"

// ParseUUID accepts 16-bit, 32-bit and 128-bit UUID strings in any case,
// with or without dashes or a 0x prefix, and returns the 128-bit form.
func ParseUUID(s string) (uuid.UUID, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "0x")
	switch len(v) {
	case 4:
		v = "0000" + v + sigBase
	case 8:
		v = v + sigBase
	}
	u, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// MustParseUUID is ParseUUID for compile-time constants.
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ShortUUID returns the 16-bit form for SIG UUIDs and the first eight hex
// digits otherwise, for log output.
func ShortUUID(u uuid.UUID) string {
	s := u.String()
	if strings.HasSuffix(s, sigBase) && strings.HasPrefix(s, "0000") {
		return s[4:8]
	}
	return s[:8]
}

// SameUUID compares two UUID strings after canonicalization.
func SameUUID(a, b string) bool {
	ua, errA := ParseUUID(a)
	ub, errB := ParseUUID(b)
	return errA == nil && errB == nil && ua == ub
}

func myo(short string) uuid.UUID {
	return MustParseUUID("d506" + short + myoSuffix)
}
