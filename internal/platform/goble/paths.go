package goble

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

// go-ble has no object tree, so the backend names things the way BlueZ does.
const pathRoot = "/goble"

// sigBase is the Bluetooth SIG base UUID in RFC 4122 byte order.
var sigBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

func adapterPath(name string) platform.ObjectPath {
	return platform.ObjectPath(pathRoot + "/" + name)
}

func devicePath(adapter platform.ObjectPath, addr string) platform.ObjectPath {
	return platform.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ToUpper(strings.ReplaceAll(addr, ":", "_"))))
}

func servicePath(dev platform.ObjectPath, index int) platform.ObjectPath {
	return platform.ObjectPath(fmt.Sprintf("%s/service%04x", dev, index))
}

func characteristicPath(svc platform.ObjectPath, index int) platform.ObjectPath {
	return platform.ObjectPath(fmt.Sprintf("%s/char%04x", svc, index))
}

// uuidString renders a go-ble UUID (little-endian, 2, 4 or 16 bytes) in the
// canonical 128-bit dashed form.
func uuidString(u ble.UUID) string {
	switch len(u) {
	case 2, 4:
		id := sigBase
		be := ble.Reverse(u)
		copy(id[4-len(be):4], be)
		return id.String()
	case 16:
		if id, err := uuid.FromBytes(ble.Reverse(u)); err == nil {
			return id.String()
		}
	}
	return strings.ToLower(u.String())
}

func uuidStrings(us []ble.UUID) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, uuidString(u))
	}
	return out
}

// flagNames renders go-ble property bits with BlueZ's flag names.
func flagNames(p ble.Property) []string {
	var out []string
	names := []struct {
		bit  ble.Property
		name string
	}{
		{ble.CharBroadcast, "broadcast"},
		{ble.CharRead, "read"},
		{ble.CharWriteNR, "write-without-response"},
		{ble.CharWrite, "write"},
		{ble.CharNotify, "notify"},
		{ble.CharIndicate, "indicate"},
	}
	for _, n := range names {
		if p&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}
