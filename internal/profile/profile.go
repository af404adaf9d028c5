// Package profile holds the fixed GATT schema of the Myo armband and the
// live table that binds platform handles onto it as the peripheral's object
// tree is discovered.
//
// A Profile is not safe for concurrent use. It is owned by a single
// resolution machine and only mutated from the driver's event loop.
package profile

import (
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Handle is the platform's opaque name for a bound GATT object.
type Handle string

// Role tells the rest of the driver what a characteristic carries.
type Role uint8

const (
	RoleNone Role = iota
	RoleDeviceName
	RoleAppearance
	RoleConnParams
	RoleBatteryLevel
	RoleInfo
	RoleFirmwareVersion
	RoleCommand
	RoleIMUData
	RoleMotionEvent
	RoleClassifier
	RoleEMGData
)

func (r Role) String() string {
	switch r {
	case RoleDeviceName:
		return "device_name"
	case RoleAppearance:
		return "appearance"
	case RoleConnParams:
		return "conn_params"
	case RoleBatteryLevel:
		return "battery_level"
	case RoleInfo:
		return "info"
	case RoleFirmwareVersion:
		return "firmware_version"
	case RoleCommand:
		return "command"
	case RoleIMUData:
		return "imu_data"
	case RoleMotionEvent:
		return "motion_event"
	case RoleClassifier:
		return "classifier"
	case RoleEMGData:
		return "emg_data"
	default:
		return "none"
	}
}

// Well-known UUIDs of the armband profile.
var (
	GenericAccessService = MustParseUUID("1800")
	DeviceNameChar       = MustParseUUID("2a00")
	AppearanceChar       = MustParseUUID("2a01")
	ConnParamsChar       = MustParseUUID("2a04")

	BatteryService   = MustParseUUID("180f")
	BatteryLevelChar = MustParseUUID("2a19")

	ControlService      = myo("0001")
	InfoChar            = myo("0101")
	FirmwareVersionChar = myo("0201")
	CommandChar         = myo("0401")

	IMUService      = myo("0002")
	IMUDataChar     = myo("0402")
	MotionEventChar = myo("0502")

	ClassifierService = myo("0003")
	ClassifierChar    = myo("0103")

	EMGService  = myo("0004")
	EMGDataChar = myo("0104")
)

// CharacteristicSpec is one expected characteristic of a ServiceSpec.
type CharacteristicSpec struct {
	UUID uuid.UUID
	Name string
	Role Role
}

// ServiceSpec is one expected service of the armband.
type ServiceSpec struct {
	UUID            uuid.UUID
	Name            string
	Characteristics []CharacteristicSpec
}

// Schema is the armband's GATT layout in declaration order.
var Schema = []ServiceSpec{
	{UUID: GenericAccessService, Name: "Generic Access", Characteristics: []CharacteristicSpec{
		{UUID: DeviceNameChar, Name: "Device Name", Role: RoleDeviceName},
		{UUID: AppearanceChar, Name: "Appearance", Role: RoleAppearance},
		{UUID: ConnParamsChar, Name: "Peripheral Preferred Connection Parameters", Role: RoleConnParams},
	}},
	{UUID: BatteryService, Name: "Battery", Characteristics: []CharacteristicSpec{
		{UUID: BatteryLevelChar, Name: "Battery Level", Role: RoleBatteryLevel},
	}},
	{UUID: ControlService, Name: "Myo Control", Characteristics: []CharacteristicSpec{
		{UUID: InfoChar, Name: "Myo Info", Role: RoleInfo},
		{UUID: FirmwareVersionChar, Name: "Firmware Version", Role: RoleFirmwareVersion},
		{UUID: CommandChar, Name: "Command", Role: RoleCommand},
	}},
	{UUID: IMUService, Name: "IMU Data", Characteristics: []CharacteristicSpec{
		{UUID: IMUDataChar, Name: "IMU Data", Role: RoleIMUData},
		{UUID: MotionEventChar, Name: "Motion Event", Role: RoleMotionEvent},
	}},
	{UUID: ClassifierService, Name: "Classifier", Characteristics: []CharacteristicSpec{
		{UUID: ClassifierChar, Name: "Classifier Event", Role: RoleClassifier},
	}},
	{UUID: EMGService, Name: "EMG Data", Characteristics: []CharacteristicSpec{
		{UUID: EMGDataChar, Name: "EMG Data", Role: RoleEMGData},
	}},
}

// Characteristic is a declared characteristic and its live handle.
type Characteristic struct {
	CharacteristicSpec
	Service *Service
	Handle  Handle
}

// Bound reports whether the characteristic has a live handle.
func (c *Characteristic) Bound() bool { return c.Handle != "" }

// Service is a declared service, its live handle and its characteristics.
type Service struct {
	UUID   uuid.UUID
	Name   string
	Handle Handle

	chars *orderedmap.OrderedMap[uuid.UUID, *Characteristic]
}

// Bound reports whether the service has a live handle.
func (s *Service) Bound() bool { return s.Handle != "" }

// Characteristics returns the service's characteristics in declaration order.
func (s *Service) Characteristics() []*Characteristic {
	out := make([]*Characteristic, 0, s.chars.Len())
	for p := s.chars.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// Resolved reports whether the service and all of its characteristics are bound.
func (s *Service) Resolved() bool {
	if !s.Bound() {
		return false
	}
	for p := s.chars.Oldest(); p != nil; p = p.Next() {
		if !p.Value.Bound() {
			return false
		}
	}
	return true
}

func (s *Service) unbind() {
	s.Handle = ""
	for p := s.chars.Oldest(); p != nil; p = p.Next() {
		p.Value.Handle = ""
	}
}

// Profile is the live handle table of one peripheral.
type Profile struct {
	services *orderedmap.OrderedMap[uuid.UUID, *Service]
	byRole   map[Role]*Characteristic
}

// Declare builds an unbound profile from Schema.
func Declare() *Profile {
	p := &Profile{
		services: orderedmap.New[uuid.UUID, *Service](),
		byRole:   make(map[Role]*Characteristic),
	}
	for _, ss := range Schema {
		svc := &Service{
			UUID:  ss.UUID,
			Name:  ss.Name,
			chars: orderedmap.New[uuid.UUID, *Characteristic](),
		}
		for _, cs := range ss.Characteristics {
			c := &Characteristic{CharacteristicSpec: cs, Service: svc}
			svc.chars.Set(cs.UUID, c)
			p.byRole[cs.Role] = c
		}
		p.services.Set(ss.UUID, svc)
	}
	return p
}

// Services returns the services in declaration order.
func (p *Profile) Services() []*Service {
	out := make([]*Service, 0, p.services.Len())
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Service looks a declared service up by UUID string.
func (p *Profile) Service(id string) (*Service, bool) {
	u, err := ParseUUID(id)
	if err != nil {
		return nil, false
	}
	return p.services.Get(u)
}

// BindService records handle for the declared service with the given UUID.
// Rebinding a service to a different handle drops its characteristic handles.
func (p *Profile) BindService(id string, handle Handle) error {
	svc, ok := p.Service(id)
	if !ok {
		return &UnknownUUIDError{Resource: "service", UUIDs: []string{id}}
	}
	if svc.Handle != handle {
		svc.unbind()
	}
	svc.Handle = handle
	return nil
}

// BindCharacteristic records handle for a characteristic of a bound service.
func (p *Profile) BindCharacteristic(serviceID, charID string, handle Handle) error {
	svc, ok := p.Service(serviceID)
	if !ok {
		return &UnknownUUIDError{Resource: "service", UUIDs: []string{serviceID}}
	}
	cu, err := ParseUUID(charID)
	if err != nil {
		return &UnknownUUIDError{Resource: "characteristic", UUIDs: []string{serviceID, charID}}
	}
	c, ok := svc.chars.Get(cu)
	if !ok {
		return &UnknownUUIDError{Resource: "characteristic", UUIDs: []string{serviceID, charID}}
	}
	if !svc.Bound() {
		return &ServiceNotBoundError{Service: serviceID}
	}
	c.Handle = handle
	return nil
}

// IsReady reports whether every service and every characteristic is bound.
func (p *Profile) IsReady() bool {
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value.Resolved() {
			return false
		}
	}
	return true
}

// Reset drops every handle. The schema is kept.
func (p *Profile) Reset() {
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.unbind()
	}
}

// Unbind drops handle wherever it is bound. Unbinding a service also drops
// its characteristics. It reports whether anything was bound to handle.
func (p *Profile) Unbind(handle Handle) bool {
	if handle == "" {
		return false
	}
	if svc, ok := p.ServiceByHandle(handle); ok {
		svc.unbind()
		return true
	}
	if c, ok := p.CharacteristicByHandle(handle); ok {
		c.Handle = ""
		return true
	}
	return false
}

// ServiceByHandle finds the service bound to handle.
func (p *Profile) ServiceByHandle(handle Handle) (*Service, bool) {
	if handle == "" {
		return nil, false
	}
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Handle == handle {
			return pair.Value, true
		}
	}
	return nil, false
}

// CharacteristicByHandle finds the characteristic bound to handle.
func (p *Profile) CharacteristicByHandle(handle Handle) (*Characteristic, bool) {
	if handle == "" {
		return nil, false
	}
	for _, c := range p.byRole {
		if c.Handle == handle {
			return c, true
		}
	}
	return nil, false
}

// Characteristic looks a declared characteristic up by UUID string.
func (p *Profile) Characteristic(id string) (*Characteristic, bool) {
	u, err := ParseUUID(id)
	if err != nil {
		return nil, false
	}
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		if c, ok := pair.Value.chars.Get(u); ok {
			return c, true
		}
	}
	return nil, false
}

// ByRole returns the characteristic carrying role.
func (p *Profile) ByRole(role Role) (*Characteristic, bool) {
	c, ok := p.byRole[role]
	return c, ok
}

// Missing lists what is still unbound as "service" or "service/characteristic"
// names, for diagnostics.
func (p *Profile) Missing() []string {
	var out []string
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		svc := pair.Value
		if !svc.Bound() {
			out = append(out, svc.Name)
			continue
		}
		for cp := svc.chars.Oldest(); cp != nil; cp = cp.Next() {
			if !cp.Value.Bound() {
				out = append(out, svc.Name+"/"+cp.Value.Name)
			}
		}
	}
	return out
}
