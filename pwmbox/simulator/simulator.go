// Package simulator emulates a pwm box on the host side of its serial
// line, following the firmware command handling. It stands in for the
// hardware in tests and with the -sim flag.
package simulator

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	NumPWMs      = 8
	DefaultSlots = 15
)

var ErrClosed = errors.New("simulator: port closed")

// PWM is a channel as stored by the firmware, Frq in tenths of Hz.
type PWM struct {
	Name string
	Mode int
	Frq  int
	Dty  int
	Phs  int
}

type Slot struct {
	Name string
	PWMs [NumPWMs]PWM
}

// Device is an in-memory pwm box. It implements the port
// interface expected by pwmbox sessions.
type Device struct {
	SerialNumber    int
	HardwareVersion string
	SoftwareVersion string
	MaxSlots        int

	// Mute drops every line, like a serial device that isn't a pwm box.
	Mute bool
	// Corrupt, if set, rewrites each line before it is sent to the host.
	Corrupt func(line string) string

	mu       sync.Mutex
	cond     *sync.Cond
	out      []byte
	in       []byte
	received []string
	timeout  time.Duration
	closed   bool
	opened   int

	password    [3]int
	defaultSlot int
	slots       []Slot

	rxNumSlots int
	rxSlotIdx  int
	rxSlots    []Slot
}

// New returns a device configured like the firmware defaults,
// without slots, password nor default slot.
func New() *Device {
	d := &Device{
		SerialNumber:    0x4D,
		HardwareVersion: "2.3",
		SoftwareVersion: "2.0",
		MaxSlots:        DefaultSlots,
		password:        [3]int{-1, 0, 0},
		defaultSlot:     -1,
		timeout:         -1,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Open resets the line buffers, as a reboot on port opening would.
func (d *Device) Open() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
	d.out = d.out[:0]
	d.in = d.in[:0]
	d.timeout = -1
	d.opened++
	return d
}

// SetReadTimeout sets the read timeout, negative blocks. A timed read
// without pending data returns immediately rather than sleeping.
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.timeout = t
	return nil
}

func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.out) == 0 {
		if d.closed {
			return 0, ErrClosed
		}
		if d.timeout >= 0 {
			return 0, nil
		}
		d.cond.Wait()
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	d.in = append(d.in, p...)
	for {
		i := strings.IndexByte(string(d.in), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(d.in[:i]), "\r")
		d.in = d.in[i+1:]
		d.received = append(d.received, line)
		if !d.Mute {
			d.process(line)
		}
	}
	d.cond.Broadcast()
	return len(p), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
	return nil
}

// Closed tells whether the port is currently closed.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Opened returns how many times Open was called.
func (d *Device) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Inject queues raw bytes for the host to read.
func (d *Device) Inject(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = append(d.out, s...)
	d.cond.Broadcast()
}

// Received returns every line written by the host, without terminators.
func (d *Device) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func (d *Device) ResetReceived() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = nil
}

func (d *Device) Slots() []Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Slot(nil), d.slots...)
}

func (d *Device) SetSlots(slots []Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = append([]Slot(nil), slots...)
}

func (d *Device) Password() [3]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.password
}

func (d *Device) SetPassword(p [3]int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.password = p
}

func (d *Device) DefaultSlot() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultSlot
}

func (d *Device) SetDefaultSlot(i int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultSlot = i
}

// process handles one host line, d.mu held.
func (d *Device) process(line string) {
	i := strings.IndexByte(line, '^')
	if i < 0 {
		return
	}
	dir, rest, _ := strings.Cut(line[i+1:], ",")
	switch dir {
	case "?":
		if len(rest) != 1 {
			d.send("^!,ERR3")
			return
		}
		switch rest[0] {
		case '@':
			d.send("^!,@")
		case 'c':
			d.sendPassword()
		case 'i':
			d.sendInfo()
		case 's':
			d.sendSlots()
		default:
			d.send("^!,ERR2")
		}
	case "!":
		cmd, args, _ := strings.Cut(rest, ",")
		if len(cmd) != 1 {
			d.send("^!,ERR3")
			return
		}
		d.set(cmd[0], args)
	default:
		d.send("^!,ERR1")
	}
}

func (d *Device) set(cmd byte, args string) {
	switch cmd {
	case 'c':
		f := strings.Split(args, ",")
		for i := range d.password {
			d.password[i] = atoi(field(f, i))
		}
	case 'd':
		d.defaultSlot = atoi(args)
	case 'n':
		d.rxNumSlots = atoi(args)
		if d.rxNumSlots < 0 || d.rxNumSlots > d.MaxSlots {
			d.rxNumSlots = 0
		}
		d.rxSlots = make([]Slot, d.rxNumSlots)
		d.slots = nil
	case 's':
		f := strings.SplitN(args, ",", 2)
		d.rxSlotIdx = atoi(field(f, 0))
		if d.rxSlotIdx >= 0 && d.rxSlotIdx < len(d.rxSlots) {
			d.rxSlots[d.rxSlotIdx].Name = field(f, 1)
		}
	case 'p':
		f := strings.Split(args, ",")
		idx := atoi(field(f, 0))
		if d.rxSlotIdx < 0 || d.rxSlotIdx >= len(d.rxSlots) || idx < 0 || idx >= NumPWMs {
			return
		}
		d.rxSlots[d.rxSlotIdx].PWMs[idx] = PWM{
			Name: field(f, 1),
			Mode: atoi(field(f, 2)),
			Frq:  atoi(field(f, 3)),
			Dty:  atoi(field(f, 4)),
			Phs:  atoi(field(f, 5)),
		}
		// last pwm of the last slot commits the whole set
		if d.rxSlotIdx == d.rxNumSlots-1 && idx == NumPWMs-1 {
			d.slots = append([]Slot(nil), d.rxSlots...)
		}
	default:
		d.send("^!,ERR2")
	}
}

func (d *Device) sendPassword() {
	p0 := "n"
	if d.password[0] != -1 {
		p0 = strconv.Itoa(d.password[0])
	}
	d.send("^!,c," + p0 + "," + strconv.Itoa(d.password[1]) + "," + strconv.Itoa(d.password[2]))
}

func (d *Device) sendInfo() {
	def := "n"
	if d.defaultSlot != -1 {
		def = strconv.Itoa(d.defaultSlot)
	}
	d.send("^!,i," + strconv.Itoa(d.SerialNumber) + "," + d.HardwareVersion + "," +
		d.SoftwareVersion + "," + def + "," + strconv.Itoa(d.MaxSlots))
}

func (d *Device) sendSlots() {
	d.send("^!,n," + strconv.Itoa(len(d.slots)))
	for i, s := range d.slots {
		d.send("^!,s," + strconv.Itoa(i) + "," + s.Name)
		for j, p := range s.PWMs {
			d.send(strings.Join([]string{"^!,p", strconv.Itoa(j), p.Name, strconv.Itoa(p.Mode),
				strconv.Itoa(p.Frq), strconv.Itoa(p.Dty), strconv.Itoa(p.Phs)}, ","))
		}
	}
}

func (d *Device) send(line string) {
	if d.Corrupt != nil {
		line = d.Corrupt(line)
	}
	d.out = append(d.out, line...)
	d.out = append(d.out, '\n')
}

func field(f []string, i int) string {
	if i < len(f) {
		return f[i]
	}
	return ""
}

// atoi mimics avr-libc: leading digits, 0 when there are none.
func atoi(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && s[end] == '-') {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}
