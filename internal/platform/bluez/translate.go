package bluez

import (
	"path"
	"sort"

	"github.com/godbus/dbus/v5"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// prop reads a typed property out of a property map.
func prop[T any](props map[string]dbus.Variant, name string) (T, bool) {
	var zero T
	v, ok := props[name]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, false
	}
	return val, true
}

// objectEvents turns one object's interface map into "added" events.
// Objects other than devices, services and characteristics yield nothing.
func objectEvents(p dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) []platform.Event {
	var out []platform.Event
	if props, ok := ifaces[device1]; ok {
		ev := platform.DeviceAdded{Path: platform.ObjectPath(p)}
		adapter, _ := prop[dbus.ObjectPath](props, "Adapter")
		ev.Adapter = platform.ObjectPath(adapter)
		ev.Address, _ = prop[string](props, "Address")
		ev.Alias, _ = prop[string](props, "Alias")
		ev.UUIDs, _ = prop[[]string](props, "UUIDs")
		ev.Connected, _ = prop[bool](props, "Connected")
		ev.ServicesResolved, _ = prop[bool](props, "ServicesResolved")
		out = append(out, ev)
	}
	if props, ok := ifaces[gattService1]; ok {
		ev := platform.ServiceAdded{Path: platform.ObjectPath(p)}
		dev, _ := prop[dbus.ObjectPath](props, "Device")
		ev.Device = platform.ObjectPath(dev)
		ev.UUID, _ = prop[string](props, "UUID")
		out = append(out, ev)
	}
	if props, ok := ifaces[gattCharacteristic1]; ok {
		ev := platform.CharacteristicAdded{Path: platform.ObjectPath(p)}
		svc, _ := prop[dbus.ObjectPath](props, "Service")
		ev.Service = platform.ObjectPath(svc)
		ev.UUID, _ = prop[string](props, "UUID")
		ev.Flags, _ = prop[[]string](props, "Flags")
		out = append(out, ev)
	}
	return out
}

// replayEvents flattens a GetManagedObjects reply into "added" events with
// every parent announced before its children.
func replayEvents(objects managedObjects, under dbus.ObjectPath) []platform.Event {
	paths := make([]string, 0, len(objects))
	for p := range objects {
		if under != "" && !isUnder(p, under) {
			continue
		}
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	var out []platform.Event
	for _, p := range paths {
		out = append(out, objectEvents(dbus.ObjectPath(p), objects[dbus.ObjectPath(p)])...)
	}
	return out
}

// isUnder reports whether p is root or a descendant of root.
func isUnder(p, root dbus.ObjectPath) bool {
	s, r := string(p), string(root)
	return s == r || (len(s) > len(r) && s[:len(r)] == r && s[len(r)] == '/')
}

// propertiesEvent translates a PropertiesChanged signal. It returns nil when
// nothing the driver cares about changed.
func propertiesEvent(p dbus.ObjectPath, iface string, changed map[string]dbus.Variant) platform.Event {
	switch iface {
	case device1:
		ev := platform.DeviceChanged{Path: platform.ObjectPath(p)}
		interesting := false
		if v, ok := prop[string](changed, "Alias"); ok {
			ev.Alias = platform.String(v)
			interesting = true
		}
		if v, ok := prop[[]string](changed, "UUIDs"); ok {
			if v == nil {
				v = []string{}
			}
			ev.UUIDs = v
			interesting = true
		}
		if v, ok := prop[bool](changed, "Connected"); ok {
			ev.Connected = platform.Bool(v)
			interesting = true
		}
		if v, ok := prop[bool](changed, "ServicesResolved"); ok {
			ev.ServicesResolved = platform.Bool(v)
			interesting = true
		}
		if !interesting {
			return nil
		}
		return ev
	case gattCharacteristic1:
		if v, ok := prop[[]byte](changed, "Value"); ok {
			return platform.ValueChanged{Path: platform.ObjectPath(p), Value: v}
		}
	}
	return nil
}

// signalEvents translates one bus signal into zero or more events.
func signalEvents(sig *dbus.Signal) []platform.Event {
	switch sig.Name {
	case interfacesAdded:
		if len(sig.Body) < 2 {
			return nil
		}
		p, ok1 := sig.Body[0].(dbus.ObjectPath)
		ifaces, ok2 := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok1 || !ok2 {
			return nil
		}
		return objectEvents(p, ifaces)

	case interfacesRemoved:
		if len(sig.Body) < 2 {
			return nil
		}
		p, ok1 := sig.Body[0].(dbus.ObjectPath)
		ifaces, ok2 := sig.Body[1].([]string)
		if !ok1 || !ok2 {
			return nil
		}
		for _, iface := range ifaces {
			switch iface {
			case device1, gattService1, gattCharacteristic1:
				return []platform.Event{platform.ObjectRemoved{Path: platform.ObjectPath(p)}}
			}
		}

	case propertiesChanged:
		if len(sig.Body) < 2 {
			return nil
		}
		iface, ok1 := sig.Body[0].(string)
		changed, ok2 := sig.Body[1].(map[string]dbus.Variant)
		if !ok1 || !ok2 {
			return nil
		}
		if ev := propertiesEvent(sig.Path, iface, changed); ev != nil {
			return []platform.Event{ev}
		}
	}
	return nil
}

// adapterInfos extracts the local controllers from a GetManagedObjects reply.
func adapterInfos(objects managedObjects) []platform.AdapterInfo {
	var out []platform.AdapterInfo
	for p, ifaces := range objects {
		props, ok := ifaces[adapter1]
		if !ok {
			continue
		}
		info := platform.AdapterInfo{Path: platform.ObjectPath(p), Name: path.Base(string(p))}
		info.Address, _ = prop[string](props, "Address")
		info.Alias, _ = prop[string](props, "Alias")
		info.Powered, _ = prop[bool](props, "Powered")
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
