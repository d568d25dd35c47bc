package pwmbox

import (
	"time"

	"github.com/rkjdid/util"
	"github.com/rs/zerolog"
)

// Config holds serial and timing settings of a session.
type Config struct {
	BaudRate           int
	DescriptionPattern string        // case-insensitive regexp matched against port descriptions
	BootDelay          util.Duration // the box reboots when its port is opened
	HandshakeTimeout   util.Duration // read timeout of the discovery handshake only
	WriteDelay         util.Duration // settle time after each announce of a write-all
}

var DefaultConfig = Config{
	BaudRate:           115200,
	DescriptionPattern: "usb.serial",
	BootDelay:          util.Duration(time.Second * 2),
	HandshakeTimeout:   util.Duration(time.Second),
	WriteDelay:         util.Duration(time.Millisecond * 500),
}

func NewConfig() *Config {
	cfg := DefaultConfig
	return &cfg
}

// Option configures a PWMBox.
type Option func(*PWMBox)

// WithLogger sets the logger of the session.
func WithLogger(l zerolog.Logger) Option {
	return func(rb *PWMBox) {
		rb.log = l
	}
}

// WithPortLister replaces host serial port enumeration.
func WithPortLister(l PortLister) Option {
	return func(rb *PWMBox) {
		rb.list = l
	}
}

// WithPortOpener replaces the host serial driver.
func WithPortOpener(o PortOpener) Option {
	return func(rb *PWMBox) {
		rb.open = o
	}
}

// WithDevice restricts discovery to the named port, regardless of its description.
func WithDevice(name string) Option {
	return func(rb *PWMBox) {
		rb.device = name
	}
}

// WithProgress sets a callback receiving read-all and write-all progress.
// It is called with the session locked and must not call back into it.
func WithProgress(fn func(SyncMessage)) Option {
	return func(rb *PWMBox) {
		rb.onProgress = fn
	}
}
