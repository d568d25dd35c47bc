package pwmbox

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// PWMBox is a session with one pwm box. It holds the device metadata
// and the presets read from or to be written to the device.
//
// Exchanges with the device are serialized by the embedded mutex,
// a session supports one logical caller at a time.
type PWMBox struct {
	sync.Mutex
	conn   *SerialConnection
	config *Config

	list       PortLister
	open       PortOpener
	device     string
	log        zerolog.Logger
	onProgress func(SyncMessage)

	// mu guards the model below, so that it can be read while
	// a long write-all holds the exchange lock.
	mu          sync.RWMutex
	state       State
	port        string
	description string
	info        Info
	password    Password
	presets     []Preset
	warnings    []IndexWarning
}

func newBox(cfg *Config, opts ...Option) *PWMBox {
	if cfg == nil {
		cfg = NewConfig()
	}
	rb := &PWMBox{
		config:   cfg,
		list:     ListPorts,
		open:     OpenPort,
		log:      log.Logger.With().Str("component", "pwmbox").Logger(),
		state:    Unbound,
		info:     Info{DefaultPreset: NoDefault},
		password: UnsetPassword,
	}
	for _, opt := range opts {
		opt(rb)
	}
	return rb
}

// NewPWMBox discovers a pwm box and loads its info, password and presets.
// Not finding a device isn't an error: the session is returned Unbound.
// Errors come from the exchanges following a successful handshake, the
// session is then Bound with whatever could be loaded.
func NewPWMBox(cfg *Config, opts ...Option) (*PWMBox, error) {
	rb := newBox(cfg, opts...)
	if !rb.Connect() {
		rb.log.Warn().Msg(ErrNoDevice.Error())
		return rb, nil
	}
	if err := rb.FetchInfo(); err != nil {
		return rb, fmt.Errorf("get info: %w", err)
	}
	if err := rb.FetchPassword(); err != nil {
		return rb, fmt.Errorf("get password: %w", err)
	}
	if err := rb.ReadAllPresets(); err != nil {
		return rb, fmt.Errorf("get slots: %w", err)
	}
	return rb, nil
}

// Connect scans serial ports and binds the session to the first one
// answering the handshake. It returns whether the session is bound.
func (rb *PWMBox) Connect() bool {
	rb.Lock()
	defer rb.Unlock()
	if rb.conn != nil {
		return true
	}

	candidates, err := rb.candidates()
	if err != nil {
		rb.log.Error().Err(err).Msg("couldn't list serial ports")
		return false
	}
	for _, pi := range candidates {
		l := rb.log.With().Str("port", pi.Name).Str("description", pi.Description).Logger()
		l.Debug().Msg("trying...")
		t0 := time.Now()
		conn, err := rb.handshake(pi)
		if err != nil {
			l.Debug().Err(err).Msg("not a pwm box")
			continue
		}
		rb.conn = conn
		rb.mu.Lock()
		rb.state = Bound
		rb.port = pi.Name
		rb.description = pi.Description
		rb.mu.Unlock()
		l.Info().Dur("took", time.Since(t0)).Msg("connected")
		return true
	}
	return false
}

// candidates returns the ports to try, in enumeration order.
func (rb *PWMBox) candidates() ([]PortInfo, error) {
	if rb.device != "" {
		return []PortInfo{{Name: rb.device, Description: rb.device}}, nil
	}
	re, err := regexp.Compile("(?i)" + rb.config.DescriptionPattern)
	if err != nil {
		return nil, fmt.Errorf("description pattern: %w", err)
	}
	ports, err := rb.list()
	if err != nil {
		return nil, err
	}
	var matching []PortInfo
	for _, pi := range ports {
		if re.MatchString(pi.Description) {
			matching = append(matching, pi)
		}
	}
	return matching, nil
}

// handshake opens pi and runs the handshake. The port is closed
// again on any failure.
func (rb *PWMBox) handshake(pi PortInfo) (_ *SerialConnection, err error) {
	mode := *DefaultSerialConfig
	if rb.config.BaudRate > 0 {
		mode.BaudRate = rb.config.BaudRate
	}
	port, err := rb.open(pi.Name, &mode)
	if err != nil {
		return nil, err
	}
	conn := NewSerial(port, &mode, pi.Name, pi.Description)
	defer func() {
		if err != nil {
			if cerr := conn.Close(); cerr != nil {
				rb.log.Debug().Err(cerr).Str("port", pi.Name).Msg("closing candidate")
			}
		}
	}()

	if err = conn.SetReadTimeout(time.Duration(rb.config.HandshakeTimeout)); err != nil {
		return nil, err
	}
	time.Sleep(time.Duration(rb.config.BootDelay))

	if err = conn.WriteLine(HandshakeRequest()); err != nil {
		return nil, err
	}
	resp, err := conn.ReadLine()
	if errors.Is(err, ErrReadTimeout) && IsHandshakeAck(string(conn.pending)) {
		// ack without line terminator
		resp, err = string(conn.pending), nil
		conn.flush()
	}
	if err != nil {
		return nil, err
	}
	if !IsHandshakeAck(resp) {
		return nil, fmt.Errorf("unexpected handshake response %q", resp)
	}
	// a bound device always answers, reads block from now on
	if err = conn.SetReadTimeout(serial.NoTimeout); err != nil {
		return nil, err
	}
	return conn, nil
}

// Close releases the serial port, the session becomes Unbound.
func (rb *PWMBox) Close() error {
	rb.Lock()
	defer rb.Unlock()
	if rb.conn == nil {
		return nil
	}
	err := rb.conn.Close()
	rb.conn = nil
	rb.mu.Lock()
	rb.state = Unbound
	rb.port, rb.description = "", ""
	rb.mu.Unlock()
	return err
}

// FetchInfo asks the device for its identity and capacity.
func (rb *PWMBox) FetchInfo() error {
	rb.Lock()
	defer rb.Unlock()
	resp, err := rb.talk(InfoRequest())
	if err != nil {
		return err
	}
	info, err := DecodeInfo(resp)
	if err != nil {
		return err
	}
	rb.mu.Lock()
	rb.info = info
	rb.mu.Unlock()
	rb.log.Debug().Int("serial", info.SerialNumber).
		Float64("hw", info.HardwareVersion).Float64("sw", info.SoftwareVersion).
		Int("default", info.DefaultPreset).Int("max_slots", info.MaxPresets).
		Msg("device info")
	return nil
}

// FetchPassword asks the device for its password.
func (rb *PWMBox) FetchPassword() error {
	rb.Lock()
	defer rb.Unlock()
	resp, err := rb.talk(PasswordRequest())
	if err != nil {
		return err
	}
	p, err := DecodePassword(resp)
	if err != nil {
		return err
	}
	rb.mu.Lock()
	rb.password = p
	rb.mu.Unlock()
	return nil
}

// ReadAllPresets replaces the in-memory presets with the ones stored on
// the device. On error the presets fully decoded so far are kept and the
// one being decoded is dropped. After a malformed line the rest of the
// announced slots is discarded, so the caller can simply read again.
func (rb *PWMBox) ReadAllPresets() (err error) {
	rb.Lock()
	defer rb.Unlock()
	if rb.conn == nil {
		return ErrNotBound
	}

	var (
		presets  []Preset
		warnings []IndexWarning
	)
	// published as a whole, also on error
	defer func() {
		rb.mu.Lock()
		rb.presets = presets
		rb.warnings = warnings
		rb.mu.Unlock()
	}()

	resp, err := rb.talk(SlotsRequest())
	if err != nil {
		return err
	}
	n, err := DecodeSlotCount(resp)
	if err != nil {
		rb.drain(err, -1)
		return err
	}

	done := 0
	defer func() {
		if err != nil {
			rb.progress(readError(done, n, err))
		}
	}()
	rb.progress(readStarted(n))

	for i := 0; i < n; i++ {
		p, line, err := rb.readPreset(i, &warnings)
		if err != nil {
			rb.drain(err, NumChannels-line+(n-1-i)*(1+NumChannels))
			return err
		}
		presets = append(presets, p)
		done++
		rb.progress(readProgress(done, n))
	}

	rb.log.Info().Int("slots", n).Int("warnings", len(warnings)).Msg("read slots")
	rb.progress(readCompleted(n, len(warnings)))
	return nil
}

// readPreset decodes slot i: a header and NumChannels channel lines.
// On error line is the position of the failing line in the block,
// 0 for the header.
func (rb *PWMBox) readPreset(i int, warnings *[]IndexWarning) (p Preset, line int, err error) {
	resp, err := rb.read()
	if err != nil {
		return p, 0, fmt.Errorf("slot %d: %w", i, err)
	}
	idx, name, err := DecodeSlotHeader(resp)
	if err != nil {
		return p, 0, fmt.Errorf("slot %d: %w", i, err)
	}
	if idx != i {
		*warnings = append(*warnings, rb.warn(IndexWarning{Slot: i, Channel: -1, Received: idx}))
	}
	p.name = name

	for j := 0; j < NumChannels; j++ {
		resp, err = rb.read()
		if err != nil {
			return p, j + 1, fmt.Errorf("slot %d pwm %d: %w", i, j, err)
		}
		cidx, ch, err := DecodeChannel(resp)
		if err != nil {
			return p, j + 1, fmt.Errorf("slot %d pwm %d: %w", i, j, err)
		}
		if cidx != j {
			*warnings = append(*warnings, rb.warn(IndexWarning{Slot: i, Channel: j, Received: cidx}))
		}
		p.Channels[j] = ch
	}
	return p, 0, nil
}

// drain discards up to n pending lines, or every line when n < 0,
// waiting at most HandshakeTimeout for each. It resynchronizes the
// line stream after cause, a malformed response. Nothing is drained
// after a transport error.
func (rb *PWMBox) drain(cause error, n int) {
	var terr *TransportError
	if rb.conn == nil || n == 0 || errors.As(cause, &terr) {
		return
	}
	if err := rb.conn.SetReadTimeout(time.Duration(rb.config.HandshakeTimeout)); err != nil {
		rb.log.Debug().Err(err).Msg("drain")
		return
	}
	dropped := 0
	for n < 0 || dropped < n {
		line, err := rb.conn.ReadLine()
		if err != nil {
			break
		}
		rb.log.Debug().Str("line", line).Msg("<- dropped")
		dropped++
	}
	rb.conn.flush()
	if err := rb.conn.SetReadTimeout(serial.NoTimeout); err != nil {
		rb.log.Error().Err(err).Msg("drain")
	}
	rb.log.Warn().Int("lines", dropped).Msg("dropped pending lines after a malformed response")
}

// WriteAllPresets replaces every slot of the device with the in-memory
// presets. The device has no per-line flow control: WriteDelay is slept
// after the count announce, after each slot announce and after each pwm
// announce.
func (rb *PWMBox) WriteAllPresets() (err error) {
	rb.Lock()
	defer rb.Unlock()
	if rb.conn == nil {
		return ErrNotBound
	}

	rb.mu.RLock()
	presets := make([]Preset, len(rb.presets))
	copy(presets, rb.presets)
	max := rb.info.MaxPresets
	rb.mu.RUnlock()

	if max > 0 && len(presets) > max {
		return &RangeError{Field: "slot count", Value: float64(len(presets)), Min: 0, Max: float64(max)}
	}
	for i, p := range presets {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
	}

	n := len(presets)
	done := 0
	defer func() {
		if err != nil {
			rb.progress(writeError(done, n, err))
		}
	}()
	rb.progress(writeStarted(n))

	if err = rb.send(SlotCountAnnounce(n)); err != nil {
		return err
	}
	rb.settle()
	for i, p := range presets {
		if err = rb.send(SlotNameAnnounce(i, p.name)); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		rb.settle()
		for j, ch := range p.Channels {
			if err = rb.send(ChannelAnnounce(j, ch)); err != nil {
				return fmt.Errorf("slot %d pwm %d: %w", i, j, err)
			}
			rb.settle()
		}
		done++
		rb.progress(writeProgress(done, n))
	}
	rb.log.Info().Int("slots", n).Msg("wrote slots")
	rb.progress(writeCompleted(n))
	return nil
}

// SetPassword stores p and sends it to the device. There is no read-back.
// Digits must be 0-9, UnsetPassword removes the password.
func (rb *PWMBox) SetPassword(p Password) error {
	rb.Lock()
	defer rb.Unlock()
	if rb.conn == nil {
		return ErrNotBound
	}
	if err := p.Validate(); err != nil {
		return err
	}
	rb.mu.Lock()
	rb.password = p
	rb.mu.Unlock()
	return rb.send(PasswordSet(p))
}

// SetDefault stores index as the default slot and sends it to the device.
func (rb *PWMBox) SetDefault(index int) error {
	rb.Lock()
	defer rb.Unlock()
	if rb.conn == nil {
		return ErrNotBound
	}
	rb.mu.Lock()
	max := rb.info.MaxPresets
	if index < 0 || (max > 0 && index >= max) {
		rb.mu.Unlock()
		return &RangeError{Field: "default slot", Value: float64(index), Min: 0, Max: float64(max - 1)}
	}
	rb.info.DefaultPreset = index
	rb.mu.Unlock()
	return rb.send(DefaultSet(index))
}

// State tells whether a device is bound to the session.
func (rb *PWMBox) State() State {
	if rb == nil {
		return Unbound
	}
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.state
}

// Info returns the device metadata, zero valued until bound.
func (rb *PWMBox) Info() Info {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.info
}

func (rb *PWMBox) Password() Password {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.password
}

// Presets returns a copy of the in-memory presets, in slot order.
func (rb *PWMBox) Presets() []Preset {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	presets := make([]Preset, len(rb.presets))
	copy(presets, rb.presets)
	return presets
}

// SetPresets replaces the in-memory presets with a copy of presets.
// Nothing is sent until WriteAllPresets. It waits for a running
// exchange to end.
func (rb *PWMBox) SetPresets(presets []Preset) {
	cp := make([]Preset, len(presets))
	copy(cp, presets)
	rb.Lock()
	defer rb.Unlock()
	rb.mu.Lock()
	rb.presets = cp
	rb.warnings = nil
	rb.mu.Unlock()
}

// Warnings returns the index mismatches seen by the last ReadAllPresets.
// Presets read with warnings hold data as received, possibly misplaced.
func (rb *PWMBox) Warnings() []IndexWarning {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	w := make([]IndexWarning, len(rb.warnings))
	copy(w, rb.warnings)
	return w
}

// Port returns the path of the bound serial port, empty when unbound.
func (rb *PWMBox) Port() string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.port
}

// Description returns the description of the bound serial port.
func (rb *PWMBox) Description() string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.description
}

func (rb *PWMBox) Config() Config {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return *rb.config
}

// SetConfig replaces the session settings. It waits for a running
// exchange to end. Serial settings apply to the next Connect.
func (rb *PWMBox) SetConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if _, err := regexp.Compile(cfg.DescriptionPattern); err != nil {
		return fmt.Errorf("invalid description pattern: %w", err)
	}
	rb.Lock()
	defer rb.Unlock()
	c := *cfg
	rb.mu.Lock()
	rb.config = &c
	rb.mu.Unlock()
	return nil
}

func (rb *PWMBox) warn(w IndexWarning) IndexWarning {
	rb.log.Warn().Int("slot", w.Slot).Int("pwm", w.Channel).Int("received", w.Received).Msg(w.String())
	return w
}

func (rb *PWMBox) progress(m SyncMessage) {
	if rb.onProgress != nil {
		rb.onProgress(m)
	}
}

func (rb *PWMBox) settle() {
	time.Sleep(time.Duration(rb.config.WriteDelay))
}

// talk sends req and reads one response line.
// All request/response exchanges go through talk.
func (rb *PWMBox) talk(req string) (string, error) {
	if err := rb.send(req); err != nil {
		return "", err
	}
	return rb.read()
}

func (rb *PWMBox) send(line string) error {
	if rb.conn == nil {
		return ErrNotBound
	}
	rb.log.Debug().Str("line", line[:len(line)-1]).Msg("->")
	return rb.conn.WriteLine(line)
}

func (rb *PWMBox) read() (string, error) {
	if rb.conn == nil {
		return "", ErrNotBound
	}
	resp, err := rb.conn.ReadLine()
	if err != nil {
		return "", err
	}
	rb.log.Debug().Str("line", resp).Msg("<-")
	return resp, nil
}
