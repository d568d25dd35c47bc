package pwmbox

import (
	"fmt"
	"math"
	"strings"
)

type Mode int

const (
	Off Mode = Mode(iota)
	PWM Mode = Mode(iota)
	On  Mode = Mode(iota)
)

// Channel is one of the 8 signal outputs of a preset.
type Channel struct {
	name      string
	Mode      Mode
	Frequency float64 // Hz, one decimal place survives the wire
	Duty      int     // percent
	Phase     int     // percent of period
}

// NewChannel builds a channel, truncating name to MaxChannelNameLen characters.
func NewChannel(name string, mode Mode, frequency float64, duty, phase int) Channel {
	return Channel{
		name:      truncate(name, MaxChannelNameLen),
		Mode:      mode,
		Frequency: frequency,
		Duty:      duty,
		Phase:     phase,
	}
}

func (c Channel) Name() string {
	return c.name
}

// SetName assigns name, silently truncated to MaxChannelNameLen characters.
func (c *Channel) SetName(name string) {
	c.name = truncate(name, MaxChannelNameLen)
}

// Less orders channels by case-insensitive name.
func (c Channel) Less(o Channel) bool {
	return strings.ToLower(c.name) < strings.ToLower(o.name)
}

// WireFrequency returns the frequency as sent to the device, in tenths of Hz.
func (c Channel) WireFrequency() int {
	return int(math.Round(c.Frequency * frequencyScale))
}

// Validate checks that every field fits the device ranges and
// that the name can be framed in a protocol line.
func (c Channel) Validate() error {
	if err := checkName("channel name", c.name, false); err != nil {
		return err
	}
	if c.Mode < Off || c.Mode > On {
		return &RangeError{Field: "mode", Value: float64(c.Mode), Min: float64(Off), Max: float64(On)}
	}
	if c.Frequency < MinFrequency || c.Frequency > MaxFrequency || math.IsNaN(c.Frequency) {
		return &RangeError{Field: "frequency", Value: c.Frequency, Min: MinFrequency, Max: MaxFrequency}
	}
	if c.Duty < MinDuty || c.Duty > MaxDuty {
		return &RangeError{Field: "duty", Value: float64(c.Duty), Min: MinDuty, Max: MaxDuty}
	}
	if c.Phase < MinPhase || c.Phase > MaxPhase {
		return &RangeError{Field: "phase", Value: float64(c.Phase), Min: MinPhase, Max: MaxPhase}
	}
	return nil
}

func (c Channel) String() string {
	return fmt.Sprintf("%q %s %.1fHz %d%% %+d%%", c.name, c.Mode, c.Frequency, c.Duty, c.Phase)
}

func (m Mode) String() string {
	switch m {
	case Off:
		return "Off"
	case PWM:
		return "PWM"
	case On:
		return "On"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}
