package pwmbox

import (
	"fmt"
	"sort"
	"strings"
)

// Preset is a named group of exactly NumChannels channels,
// stored by the device in one of its slots.
type Preset struct {
	name     string
	Channels [NumChannels]Channel
}

// NewPreset builds a preset, truncating name to MaxPresetNameLen characters.
func NewPreset(name string, channels [NumChannels]Channel) Preset {
	return Preset{
		name:     truncate(name, MaxPresetNameLen),
		Channels: channels,
	}
}

func (p Preset) Name() string {
	return p.name
}

// SetName assigns name, silently truncated to MaxPresetNameLen characters.
func (p *Preset) SetName(name string) {
	p.name = truncate(name, MaxPresetNameLen)
}

// Less orders presets by case-insensitive name.
func (p Preset) Less(o Preset) bool {
	return strings.ToLower(p.name) < strings.ToLower(o.name)
}

// Validate checks the preset name and every channel. Commas are allowed
// in the preset name, the device reads it up to the end of line.
func (p Preset) Validate() error {
	if err := checkName("preset name", p.name, true); err != nil {
		return err
	}
	for i, ch := range p.Channels {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("pwm %d: %w", i, err)
		}
	}
	return nil
}

func (p Preset) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Slot: %s\n", p.name)
	for i, ch := range p.Channels {
		fmt.Fprintf(&b, "  pwm %d: %s\n", i+1, ch)
	}
	return b.String()
}

// SortPresets sorts presets in place by name. Slot indexes follow
// slice order, so sorting before WriteAllPresets renumbers them.
func SortPresets(presets []Preset) {
	sort.SliceStable(presets, func(i, j int) bool {
		return presets[i].Less(presets[j])
	})
}

// SortChannels returns a copy of channels sorted by name.
func SortChannels(channels [NumChannels]Channel) [NumChannels]Channel {
	s := channels[:]
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Less(s[j])
	})
	return channels
}
