package pwmbox

import (
	"fmt"
	"strconv"
	"strings"
)

// NoDefault is the DefaultPreset of a device without a default slot.
const NoDefault = -1

// Info holds the identity reported by the device on ^?,i.
type Info struct {
	SerialNumber    int
	HardwareVersion float64
	SoftwareVersion float64
	DefaultPreset   int // NoDefault when unset
	MaxPresets      int
}

// HasDefault tells whether the device boots into a default slot.
func (i Info) HasDefault() bool {
	return i.DefaultPreset != NoDefault
}

// Password is the 3 digit code protecting the device menu.
type Password [PasswordLen]int

// UnsetPassword is reported by a device without password.
var UnsetPassword = Password{-1, 0, 0}

func (p Password) IsSet() bool {
	return p[0] != UnsetPassword[0]
}

// Validate accepts UnsetPassword or three digits 0-9.
func (p Password) Validate() error {
	if p == UnsetPassword {
		return nil
	}
	for i, v := range p {
		if v < 0 || v > 9 {
			return &RangeError{Field: fmt.Sprintf("password digit %d", i+1), Value: float64(v), Min: 0, Max: 9}
		}
	}
	return nil
}

// ---- encoding

func encodeLine(dir byte, cmd Command, fields ...string) string {
	var b strings.Builder
	b.WriteByte(StartChar)
	b.WriteByte(dir)
	b.WriteString(Separator)
	b.WriteByte(byte(cmd))
	for _, f := range fields {
		b.WriteString(Separator)
		b.WriteString(f)
	}
	b.WriteByte(EndChar)
	return b.String()
}

func HandshakeRequest() string { return encodeLine(Request, CmdHandshake) }
func InfoRequest() string      { return encodeLine(Request, CmdInfo) }
func PasswordRequest() string  { return encodeLine(Request, CmdPassword) }
func SlotsRequest() string     { return encodeLine(Request, CmdSlots) }

func PasswordSet(p Password) string {
	return encodeLine(Response, CmdPassword, strconv.Itoa(p[0]), strconv.Itoa(p[1]), strconv.Itoa(p[2]))
}

func DefaultSet(index int) string {
	return encodeLine(Response, CmdDefault, strconv.Itoa(index))
}

// SlotCountAnnounce precedes a full write, the device wipes its slots on it.
func SlotCountAnnounce(count int) string {
	return encodeLine(Response, CmdNumSlots, strconv.Itoa(count))
}

func SlotNameAnnounce(index int, name string) string {
	return encodeLine(Response, CmdSlots, strconv.Itoa(index), name)
}

func ChannelAnnounce(index int, ch Channel) string {
	return encodeLine(Response, CmdPWM,
		strconv.Itoa(index),
		ch.name,
		strconv.Itoa(int(ch.Mode)),
		strconv.Itoa(ch.WireFrequency()),
		strconv.Itoa(ch.Duty),
		strconv.Itoa(ch.Phase))
}

// ---- decoding

var handshakeAck = string([]byte{StartChar, Response}) + Separator + string(rune(CmdHandshake))

// IsHandshakeAck reports whether line contains the handshake acknowledgment.
func IsHandshakeAck(line string) bool {
	return strings.Contains(line, handshakeAck)
}

// DecodeInfo parses ^!,i,<sn>,<hw>,<sw>,<def|n>,<max>.
func DecodeInfo(line string) (info Info, err error) {
	f, err := splitResponse(line, CmdInfo, 5, false)
	if err != nil {
		return info, err
	}
	d := decoder{cmd: CmdInfo, line: line}
	info.SerialNumber = d.atoi("serial number", f[0])
	info.HardwareVersion = d.atof("hardware version", f[1])
	info.SoftwareVersion = d.atof("software version", f[2])
	info.DefaultPreset = NoDefault
	if f[3] != NoValue {
		info.DefaultPreset = d.atoi("default slot", f[3])
	}
	info.MaxPresets = d.atoi("max slots", f[4])
	return info, d.err
}

// DecodePassword parses ^!,c,<p0|n>,<p1>,<p2>.
func DecodePassword(line string) (Password, error) {
	f, err := splitResponse(line, CmdPassword, PasswordLen, false)
	if err != nil {
		return UnsetPassword, err
	}
	if f[0] == NoValue {
		return UnsetPassword, nil
	}
	d := decoder{cmd: CmdPassword, line: line}
	var p Password
	for i := range p {
		p[i] = d.atoi(fmt.Sprintf("digit %d", i), f[i])
	}
	if d.err != nil {
		return UnsetPassword, d.err
	}
	return p, nil
}

// DecodeSlotCount parses ^!,n,<count>.
func DecodeSlotCount(line string) (int, error) {
	f, err := splitResponse(line, CmdNumSlots, 1, false)
	if err != nil {
		return 0, err
	}
	d := decoder{cmd: CmdNumSlots, line: line}
	n := d.atoi("count", f[0])
	if d.err == nil && n < 0 {
		d.fail("negative count %d", n)
	}
	return n, d.err
}

// DecodeSlotHeader parses ^!,s,<idx>,<name>. The name is kept verbatim.
func DecodeSlotHeader(line string) (index int, name string, err error) {
	f, err := splitResponse(line, CmdSlots, 2, true)
	if err != nil {
		return 0, "", err
	}
	d := decoder{cmd: CmdSlots, line: line}
	index = d.atoi("index", f[0])
	return index, f[1], d.err
}

// DecodeChannel parses ^!,p,<idx>,<name>,<mode>,<freq*10>,<duty>,<phase>.
func DecodeChannel(line string) (index int, ch Channel, err error) {
	f, err := splitResponse(line, CmdPWM, 6, false)
	if err != nil {
		return 0, ch, err
	}
	d := decoder{cmd: CmdPWM, line: line}
	index = d.atoi("index", f[0])
	ch.name = f[1]
	ch.Mode = Mode(d.atoi("mode", f[2]))
	ch.Frequency = float64(d.atoi("frequency", f[3])) / frequencyScale
	ch.Duty = d.atoi("duty", f[4])
	ch.Phase = d.atoi("phase", f[5])
	return index, ch, d.err
}

// splitResponse checks that line is a ^!,<cmd> response and returns its
// n fields. With verbatimTail the last field keeps any separator it holds.
func splitResponse(line string, cmd Command, n int, verbatimTail bool) ([]string, error) {
	s := string(trimCRLF([]byte(line)))
	i := strings.IndexByte(s, StartChar)
	if i < 0 {
		return nil, &DecodeError{Command: cmd, Line: line, Reason: "missing start character"}
	}
	body := s[i+1:]
	head := string(rune(Response)) + Separator
	if !strings.HasPrefix(body, head) {
		return nil, &DecodeError{Command: cmd, Line: line, Reason: "not a device response"}
	}
	body = body[len(head):]
	if strings.HasPrefix(body, deviceErrPrefix) {
		if code, err := strconv.Atoi(body[len(deviceErrPrefix):]); err == nil {
			return nil, &DeviceError{Code: code}
		}
	}

	var parts []string
	if verbatimTail {
		parts = strings.SplitN(body, Separator, n+1)
	} else {
		parts = strings.Split(body, Separator)
	}
	if parts[0] != string(rune(cmd)) {
		return nil, &DecodeError{Command: cmd, Line: line, Reason: fmt.Sprintf("unexpected command %q", parts[0])}
	}
	if len(parts)-1 != n {
		return nil, &DecodeError{Command: cmd, Line: line,
			Reason: fmt.Sprintf("expected %d fields, got %d", n, len(parts)-1)}
	}
	return parts[1:], nil
}

// decoder keeps the first field conversion error of a line.
type decoder struct {
	cmd  Command
	line string
	err  error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = &DecodeError{Command: d.cmd, Line: d.line, Reason: fmt.Sprintf(format, args...)}
	}
}

func (d *decoder) atoi(field, s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		d.fail("%s: %q is not an integer", field, s)
	}
	return i
}

func (d *decoder) atof(field, s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		d.fail("%s: %q is not a number", field, s)
	}
	return f
}
