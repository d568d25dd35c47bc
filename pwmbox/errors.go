package pwmbox

import (
	"errors"
	"fmt"
)

var (
	ErrNotBound    = errors.New("no device bound to session")
	ErrNoDevice    = errors.New("didn't find any pwm box on available serial ports")
	ErrReadTimeout = errors.New("read timeout")
	ErrClosedPort  = errors.New("serial port is closed")
)

// DecodeError reports a response line that doesn't match
// the pattern expected for the current exchange.
type DecodeError struct {
	Command Command
	Line    string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response %q: %s", e.Command, e.Line, e.Reason)
}

// DeviceError is an ^!,ERRn reply from the firmware.
type DeviceError struct {
	Code int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device replied error %d (%s)", e.Code, deviceErrorName(e.Code))
}

func deviceErrorName(code int) string {
	switch code {
	case 1:
		return "unknown direction"
	case 2:
		return "unknown command"
	case 3:
		return "malformed command"
	}
	return "unknown"
}

// TransportError wraps an I/O failure on the serial port.
type TransportError struct {
	Op   string
	Port string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RangeError reports a value outside what the device accepts.
type RangeError struct {
	Field    string
	Value    float64
	Min, Max float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

// IndexWarning records a slot or channel that didn't arrive at its
// expected position during a read. Channel is -1 for slot headers.
type IndexWarning struct {
	Slot     int
	Channel  int
	Received int
}

func (w IndexWarning) String() string {
	if w.Channel < 0 {
		return fmt.Sprintf("missing slot %d (got %d)", w.Slot, w.Received)
	}
	return fmt.Sprintf("slot %d: missing pwm %d (got %d)", w.Slot, w.Channel, w.Received)
}
