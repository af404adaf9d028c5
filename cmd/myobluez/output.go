package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
	"github.com/yodaldevoid/MyoBlueZ/pkg/config"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// record is one line of output.
type record struct {
	Time  time.Time `json:"time"`
	Type  string    `json:"type"`
	Value any       `json:"value"`
}

func eventRecord(ev protocol.Event) record {
	return record{Time: time.Now(), Type: ev.EventType(), Value: ev}
}

func statusRecord(s device.ConnectionStatus) record {
	return record{Time: time.Now(), Type: "status", Value: s.String()}
}

// printer renders records. Print is only called from the output goroutine.
type printer interface {
	Print(rec record) error
}

func newPrinter(format string, w io.Writer) printer {
	if format == config.OutputJSON {
		return &jsonPrinter{enc: json.NewEncoder(w)}
	}
	return newTextPrinter(w, isTerminal(w))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type jsonPrinter struct {
	enc *jsoniter.Encoder
}

func (p *jsonPrinter) Print(rec record) error {
	return p.enc.Encode(rec)
}

type textPrinter struct {
	w      io.Writer
	tag    *color.Color
	status *color.Color
	pose   *color.Color
}

func newTextPrinter(w io.Writer, colors bool) *textPrinter {
	p := &textPrinter{
		w:      w,
		tag:    color.New(color.FgCyan),
		status: color.New(color.FgYellow, color.Bold),
		pose:   color.New(color.FgGreen, color.Bold),
	}
	for _, c := range []*color.Color{p.tag, p.status, p.pose} {
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *textPrinter) Print(rec record) error {
	tag := p.tag.Sprintf("%-10s", rec.Type)
	var body string

	switch v := rec.Value.(type) {
	case protocol.IMUSample:
		q := v.OrientationUnit()
		a := v.AccelerationG()
		g := v.AngularVelocity()
		body = fmt.Sprintf("q=[%+.3f %+.3f %+.3f %+.3f] accel=[%+.2f %+.2f %+.2f]g gyro=[%+.1f %+.1f %+.1f]deg/s",
			q[0], q[1], q[2], q[3], a[0], a[1], a[2], g[0], g[1], g[2])
	case protocol.ClassifierEvent:
		if v.Kind == protocol.ClassifierPose {
			body = p.pose.Sprint(v.String())
		} else {
			body = v.String()
		}
	case protocol.EMGFrame:
		channels := make([]string, len(v.Channels))
		for i, c := range v.Channels {
			channels[i] = fmt.Sprintf("%5d", c)
		}
		body = fmt.Sprintf("[%s] moving=%d", strings.Join(channels, " "), v.Moving)
	case protocol.FirmwareVersion:
		body = v.String()
	case protocol.BatteryLevel:
		body = fmt.Sprintf("%d%%", uint8(v))
	case string:
		body = p.status.Sprint(v)
	default:
		body = fmt.Sprint(v)
	}

	_, err := fmt.Fprintf(p.w, "%s %s\n", tag, body)
	return err
}
