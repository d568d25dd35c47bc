package pwmbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ChannelDocument is the file representation of a Channel.
type ChannelDocument struct {
	Name string  `json:"name" yaml:"name"`
	Mode int     `json:"mode" yaml:"mode"`
	Frq  float64 `json:"frq" yaml:"frq"`
	Dty  int     `json:"dty" yaml:"dty"`
	Phs  int     `json:"phs" yaml:"phs"`
}

// PresetDocument is the file representation of a Preset:
// a name and NumChannels objects keyed "pwm 1".."pwm 8".
type PresetDocument struct {
	Name     string
	Channels [NumChannels]ChannelDocument
}

// PresetsDocument is the file representation of the device slots:
// num_slots and objects keyed "slot 1".."slot N".
type PresetsDocument struct {
	Slots []PresetDocument
}

const (
	numSlotsKey = "num_slots"
	nameKey     = "name"
)

func pwmKey(i int) string  { return "pwm " + strconv.Itoa(i+1) }
func slotKey(i int) string { return "slot " + strconv.Itoa(i+1) }

func (c Channel) ToDocument() ChannelDocument {
	return ChannelDocument{
		Name: c.name,
		Mode: int(c.Mode),
		Frq:  c.Frequency,
		Dty:  c.Duty,
		Phs:  c.Phase,
	}
}

// ChannelFromDocument builds a channel, truncating its name.
func ChannelFromDocument(d ChannelDocument) Channel {
	return NewChannel(d.Name, Mode(d.Mode), d.Frq, d.Dty, d.Phs)
}

func (p Preset) ToDocument() PresetDocument {
	d := PresetDocument{Name: p.name}
	for i, ch := range p.Channels {
		d.Channels[i] = ch.ToDocument()
	}
	return d
}

// PresetFromDocument builds a preset, truncating names.
func PresetFromDocument(d PresetDocument) Preset {
	var channels [NumChannels]Channel
	for i, c := range d.Channels {
		channels[i] = ChannelFromDocument(c)
	}
	return NewPreset(d.Name, channels)
}

// PresetsToDocument maps presets in slot order.
func PresetsToDocument(presets []Preset) PresetsDocument {
	d := PresetsDocument{Slots: make([]PresetDocument, len(presets))}
	for i, p := range presets {
		d.Slots[i] = p.ToDocument()
	}
	return d
}

func PresetsFromDocument(d PresetsDocument) []Preset {
	presets := make([]Preset, len(d.Slots))
	for i, s := range d.Slots {
		presets[i] = PresetFromDocument(s)
	}
	return presets
}

// ---- json, keys are written in slot / pwm order

func (d PresetDocument) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	if err := writeJSONField(&b, nameKey, d.Name); err != nil {
		return nil, err
	}
	for i, c := range d.Channels {
		b.WriteByte(',')
		if err := writeJSONField(&b, pwmKey(i), c); err != nil {
			return nil, err
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (d *PresetDocument) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	raw, ok := m[nameKey]
	if !ok {
		return fmt.Errorf("missing %q", nameKey)
	}
	if err := json.Unmarshal(raw, &d.Name); err != nil {
		return fmt.Errorf("%s: %w", nameKey, err)
	}
	for i := range d.Channels {
		raw, ok := m[pwmKey(i)]
		if !ok {
			return fmt.Errorf("missing %q", pwmKey(i))
		}
		if err := json.Unmarshal(raw, &d.Channels[i]); err != nil {
			return fmt.Errorf("%s: %w", pwmKey(i), err)
		}
	}
	return nil
}

func (d PresetsDocument) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	if err := writeJSONField(&b, numSlotsKey, len(d.Slots)); err != nil {
		return nil, err
	}
	for i, s := range d.Slots {
		b.WriteByte(',')
		if err := writeJSONField(&b, slotKey(i), s); err != nil {
			return nil, err
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (d *PresetsDocument) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	raw, ok := m[numSlotsKey]
	if !ok {
		return fmt.Errorf("missing %q", numSlotsKey)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("%s: %w", numSlotsKey, err)
	}
	if n < 0 {
		return fmt.Errorf("%s: negative value %d", numSlotsKey, n)
	}
	d.Slots = make([]PresetDocument, n)
	for i := range d.Slots {
		raw, ok := m[slotKey(i)]
		if !ok {
			return fmt.Errorf("missing %q", slotKey(i))
		}
		if err := json.Unmarshal(raw, &d.Slots[i]); err != nil {
			return fmt.Errorf("%s: %w", slotKey(i), err)
		}
	}
	return nil
}

func writeJSONField(b *bytes.Buffer, key string, v interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Write(k)
	b.WriteByte(':')
	b.Write(val)
	return nil
}

// ---- yaml, same layout as json

func (d PresetDocument) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	if err := appendYAMLField(n, nameKey, d.Name); err != nil {
		return nil, err
	}
	for i, c := range d.Channels {
		if err := appendYAMLField(n, pwmKey(i), c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (d *PresetDocument) UnmarshalYAML(value *yaml.Node) error {
	m, err := yamlFields(value)
	if err != nil {
		return err
	}
	v, ok := m[nameKey]
	if !ok {
		return fmt.Errorf("line %d: missing %q", value.Line, nameKey)
	}
	if err := v.Decode(&d.Name); err != nil {
		return err
	}
	for i := range d.Channels {
		v, ok := m[pwmKey(i)]
		if !ok {
			return fmt.Errorf("line %d: missing %q", value.Line, pwmKey(i))
		}
		if err := v.Decode(&d.Channels[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d PresetsDocument) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	if err := appendYAMLField(n, numSlotsKey, len(d.Slots)); err != nil {
		return nil, err
	}
	for i, s := range d.Slots {
		if err := appendYAMLField(n, slotKey(i), s); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (d *PresetsDocument) UnmarshalYAML(value *yaml.Node) error {
	m, err := yamlFields(value)
	if err != nil {
		return err
	}
	v, ok := m[numSlotsKey]
	if !ok {
		return fmt.Errorf("line %d: missing %q", value.Line, numSlotsKey)
	}
	var n int
	if err := v.Decode(&n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("line %d: %s: negative value %d", v.Line, numSlotsKey, n)
	}
	d.Slots = make([]PresetDocument, n)
	for i := range d.Slots {
		v, ok := m[slotKey(i)]
		if !ok {
			return fmt.Errorf("line %d: missing %q", value.Line, slotKey(i))
		}
		if err := v.Decode(&d.Slots[i]); err != nil {
			return err
		}
	}
	return nil
}

func appendYAMLField(n *yaml.Node, key string, v interface{}) error {
	val := &yaml.Node{}
	if err := val.Encode(v); err != nil {
		return err
	}
	n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
	return nil
}

func yamlFields(value *yaml.Node) (map[string]*yaml.Node, error) {
	if value.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", value.Line)
	}
	m := make(map[string]*yaml.Node, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		m[value.Content[i].Value] = value.Content[i+1]
	}
	return m, nil
}
