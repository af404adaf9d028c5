package device

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/metrics"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
)

// NotifyKind names a notifying characteristic the application can subscribe to.
type NotifyKind uint8

const (
	NotifyIMU NotifyKind = iota + 1
	NotifyClassifier
	NotifyEMG
)

// notifyKinds in subscription order.
var notifyKinds = []NotifyKind{NotifyIMU, NotifyClassifier, NotifyEMG}

func (k NotifyKind) String() string {
	switch k {
	case NotifyIMU:
		return "imu"
	case NotifyClassifier:
		return "classifier"
	case NotifyEMG:
		return "emg"
	default:
		return fmt.Sprintf("notify(%d)", uint8(k))
	}
}

func (k NotifyKind) role() profile.Role {
	switch k {
	case NotifyIMU:
		return profile.RoleIMUData
	case NotifyClassifier:
		return profile.RoleClassifier
	case NotifyEMG:
		return profile.RoleEMGData
	default:
		return profile.RoleNone
	}
}

type subscription struct {
	desired  bool
	active   bool
	pending  bool
	attempts int
	handle   platform.ObjectPath
}

// Dispatcher owns the subscriptions of the active peripheral and turns
// notifications into decoded events.
type Dispatcher struct {
	plat    platform.Platform
	profile *profile.Profile
	subs    map[NotifyKind]*subscription
	retries int
	logger  *logrus.Logger
	metrics *metrics.Metrics

	OnIMU        func(protocol.IMUSample)
	OnClassifier func(protocol.ClassifierEvent)
	OnEMG        func(protocol.EMGFrame)
	OnError      func(error)
}

// NewDispatcher creates a dispatcher that retries failed subscription
// changes up to retries times.
func NewDispatcher(plat platform.Platform, retries int, logger *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Dispatcher{
		plat:    plat,
		subs:    make(map[NotifyKind]*subscription, len(notifyKinds)),
		retries: retries,
		logger:  logger,
		metrics: m,
	}
	for _, k := range notifyKinds {
		d.subs[k] = &subscription{}
	}
	return d
}

// SetProfile points the dispatcher at the active peripheral's handle table.
// Existing subscriptions are invalidated; desired states are kept.
func (d *Dispatcher) SetProfile(p *profile.Profile) {
	d.profile = p
	d.Invalidate()
}

// SetNotify records the desired subscription state of kind and issues
// StartNotify or StopNotify if that changes anything.
func (d *Dispatcher) SetNotify(kind NotifyKind, enabled bool) error {
	sub, ok := d.subs[kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %d", uint8(kind))
	}
	sub.desired = enabled
	return d.sync(kind, sub)
}

// Desired reports what the application asked for.
func (d *Dispatcher) Desired(kind NotifyKind) bool {
	sub, ok := d.subs[kind]
	return ok && sub.desired
}

// Active reports whether kind is subscribed. The flag is set when the
// request is issued and cleared again if it fails.
func (d *Dispatcher) Active(kind NotifyKind) bool {
	sub, ok := d.subs[kind]
	return ok && sub.active
}

// ActiveHandles returns the characteristic paths with an active subscription.
func (d *Dispatcher) ActiveHandles() []platform.ObjectPath {
	var out []platform.ObjectPath
	for _, k := range notifyKinds {
		if sub := d.subs[k]; sub.active && sub.handle != "" {
			out = append(out, sub.handle)
		}
	}
	return out
}

// Invalidate marks every subscription inactive and forgets in-flight
// requests. Desired states survive for Resubscribe.
func (d *Dispatcher) Invalidate() {
	for _, sub := range d.subs {
		sub.active = false
		sub.pending = false
		sub.attempts = 0
		sub.handle = ""
	}
}

// Resubscribe re-issues every desired subscription.
func (d *Dispatcher) Resubscribe() error {
	var errs []error
	for _, k := range notifyKinds {
		if sub := d.subs[k]; sub.desired {
			if err := d.sync(k, sub); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) sync(kind NotifyKind, sub *subscription) error {
	if sub.pending || sub.active == sub.desired {
		return nil
	}

	enable := sub.desired
	var c *profile.Characteristic
	if d.profile != nil {
		c, _ = d.profile.ByRole(kind.role())
	}
	if c == nil || !c.Bound() {
		if !enable {
			sub.active = false
			return nil
		}
		return &NotifyError{Kind: kind, Enable: enable, Err: ErrCharacteristicUnbound}
	}

	path := platform.ObjectPath(c.Handle)
	var err error
	if enable {
		err = d.plat.StartNotify(path)
	} else {
		err = d.plat.StopNotify(path)
	}
	if err != nil {
		return &NotifyError{Kind: kind, Enable: enable, Err: err}
	}

	sub.pending = true
	sub.active = enable
	sub.handle = path
	d.logger.WithFields(logrus.Fields{
		"kind":   kind,
		"enable": enable,
		"path":   path,
	}).Debug("Subscription change issued")
	return nil
}

// OnCallDone consumes StartNotify/StopNotify completions. Failures are
// retried; once retries are exhausted a *NotifyError goes to OnError.
func (d *Dispatcher) OnCallDone(e platform.CallDone) {
	if e.Op != platform.OpStartNotify && e.Op != platform.OpStopNotify {
		return
	}
	enable := e.Op == platform.OpStartNotify
	for _, kind := range notifyKinds {
		sub := d.subs[kind]
		if !sub.pending || sub.handle != e.Path {
			continue
		}
		sub.pending = false

		if e.Err == nil {
			sub.attempts = 0
			if err := d.sync(kind, sub); err != nil {
				d.report(err)
			}
			return
		}

		sub.active = !enable
		sub.attempts++
		nerr := &NotifyError{Kind: kind, Enable: enable, Attempt: sub.attempts, Err: e.Err}
		if sub.attempts <= d.retries {
			d.logger.WithError(nerr).Warn("Subscription change failed, retrying")
			if err := d.sync(kind, sub); err != nil {
				d.report(err)
			}
			return
		}
		sub.attempts = 0
		d.logger.WithError(nerr).Warn("Subscription change failed")
		d.report(nerr)
		return
	}
}

// OnValueChanged decodes a notification from handle and hands it to the
// callback of its kind. Malformed payloads are counted, reported and dropped.
func (d *Dispatcher) OnValueChanged(handle profile.Handle, raw []byte) {
	if d.profile == nil {
		return
	}
	c, ok := d.profile.CharacteristicByHandle(handle)
	if !ok {
		return
	}

	var kind NotifyKind
	switch c.Role {
	case profile.RoleIMUData:
		kind = NotifyIMU
	case profile.RoleClassifier:
		kind = NotifyClassifier
	case profile.RoleEMGData:
		kind = NotifyEMG
	default:
		return
	}
	if !d.subs[kind].active {
		return
	}

	var err error
	switch kind {
	case NotifyIMU:
		var s protocol.IMUSample
		if s, err = protocol.DecodeIMUSample(raw); err == nil && d.OnIMU != nil {
			d.OnIMU(s)
		}
	case NotifyClassifier:
		var ev protocol.ClassifierEvent
		if ev, err = protocol.DecodeClassifierEvent(raw); err == nil && d.OnClassifier != nil {
			d.OnClassifier(ev)
		}
	case NotifyEMG:
		var f protocol.EMGFrame
		if f, err = protocol.DecodeEMGFrame(raw); err == nil && d.OnEMG != nil {
			d.OnEMG(f)
		}
	}

	if err != nil {
		d.metrics.ObserveDecodeError(kind.String())
		d.logger.WithFields(logrus.Fields{
			"kind":  kind,
			"path":  handle,
			"len":   len(raw),
			"error": err,
		}).Warn("Dropping malformed notification")
		d.report(err)
		return
	}
	d.metrics.ObserveNotification(kind.String())
}

func (d *Dispatcher) report(err error) {
	if d.OnError != nil {
		d.OnError(err)
	}
}
