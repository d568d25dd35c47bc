package pwmbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var DefaultSerialConfig = &serial.Mode{
	BaudRate: 115200,
	Parity:   serial.NoParity,
	DataBits: 8,
	StopBits: serial.OneStopBit,
}

// maxLineLen bounds a response line, firmware buffers are 64 bytes.
const maxLineLen = 256

// Port is the part of serial.Port used by a session.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout makes Read return 0, nil after t without data.
	// serial.NoTimeout blocks until data arrives.
	SetReadTimeout(t time.Duration) error
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name        string
	Description string
}

// PortLister enumerates candidate serial ports.
type PortLister func() ([]PortInfo, error)

// PortOpener opens a serial port by name.
type PortOpener func(name string, mode *serial.Mode) (Port, error)

// ListPorts returns the serial ports of the host with the USB product
// string as description, falling back to plain port names.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, err2 := serial.GetPortsList()
		if err2 != nil {
			return nil, err
		}
		infos := make([]PortInfo, len(names))
		for i, v := range names {
			infos[i] = PortInfo{Name: v, Description: v}
		}
		return infos, nil
	}
	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if desc == "" {
			desc = d.Name
		}
		if d.IsUSB {
			desc = fmt.Sprintf("%s (%s:%s)", desc, d.VID, d.PID)
		}
		infos = append(infos, PortInfo{Name: d.Name, Description: desc})
	}
	return infos, nil
}

// OpenPort opens name on the host serial driver.
func OpenPort(name string, mode *serial.Mode) (Port, error) {
	if mode == nil {
		mode = DefaultSerialConfig
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialConnection frames a Port into protocol lines.
type SerialConnection struct {
	Port
	path        string
	description string
	config      *serial.Mode

	pending []byte
	chunk   []byte
	closed  bool
}

func NewSerial(port Port, config *serial.Mode, name, description string) *SerialConnection {
	return &SerialConnection{
		Port:        port,
		path:        name,
		description: description,
		config:      config,
		chunk:       make([]byte, 64),
	}
}

// WriteLine sends one encoded line.
func (sc *SerialConnection) WriteLine(line string) error {
	if sc.closed {
		return &TransportError{Op: "write", Port: sc.path, Err: ErrClosedPort}
	}
	n, err := sc.Port.Write([]byte(line))
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &TransportError{Op: "write", Port: sc.path, Err: err}
	}
	return nil
}

// ReadLine returns the next line without its terminator. It returns
// ErrReadTimeout when the port read timeout expires with no complete
// line; bytes read so far are kept for the next call.
func (sc *SerialConnection) ReadLine() (string, error) {
	if sc.closed {
		return "", &TransportError{Op: "read", Port: sc.path, Err: ErrClosedPort}
	}
	for {
		if i := bytes.IndexByte(sc.pending, EndChar); i >= 0 {
			line := string(trimCRLF(sc.pending[:i+1]))
			sc.pending = append(sc.pending[:0], sc.pending[i+1:]...)
			return line, nil
		}
		if len(sc.pending) > maxLineLen {
			sc.pending = sc.pending[:0]
			return "", &TransportError{Op: "read", Port: sc.path,
				Err: fmt.Errorf("no line terminator after %d bytes", maxLineLen)}
		}
		n, err := sc.Port.Read(sc.chunk)
		sc.pending = append(sc.pending, sc.chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				continue
			}
			return "", &TransportError{Op: "read", Port: sc.path, Err: err}
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
	}
}

// flush drops the bytes of an incomplete line.
func (sc *SerialConnection) flush() {
	sc.pending = sc.pending[:0]
}

// Close releases the port, further calls are no-ops.
func (sc *SerialConnection) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	return sc.Port.Close()
}

// Path returns device name / path of serial port.
func (sc *SerialConnection) Path() string {
	return sc.path
}

// Description returns the human readable port description used at discovery.
func (sc *SerialConnection) Description() string {
	return sc.description
}
