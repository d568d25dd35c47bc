// Package docfile imports and exports presets as JSON or YAML documents.
// The format follows the file extension, JSON being the default.
package docfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/granasat/gopwmbox/pwmbox"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	JSON Format = iota
	YAML
)

// FormatOf picks the document format from a file name.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Load reads a document holding every slot of a device.
func Load(path string) ([]pwmbox.Preset, error) {
	var doc pwmbox.PresetsDocument
	if err := read(path, &doc); err != nil {
		return nil, err
	}
	return pwmbox.PresetsFromDocument(doc), nil
}

// Save writes presets, in slot order, to path.
func Save(path string, presets []pwmbox.Preset) error {
	return write(path, pwmbox.PresetsToDocument(presets))
}

// LoadPreset reads a document holding a single preset.
func LoadPreset(path string) (pwmbox.Preset, error) {
	var doc pwmbox.PresetDocument
	if err := read(path, &doc); err != nil {
		return pwmbox.Preset{}, err
	}
	return pwmbox.PresetFromDocument(doc), nil
}

func SavePreset(path string, p pwmbox.Preset) error {
	return write(path, p.ToDocument())
}

func read(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch FormatOf(path) {
	case YAML:
		err = yaml.Unmarshal(b, v)
	default:
		err = json.Unmarshal(b, v)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func write(path string, v interface{}) error {
	var (
		b   []byte
		err error
	)
	switch FormatOf(path) {
	case YAML:
		b, err = yaml.Marshal(v)
	default:
		b, err = json.MarshalIndent(v, "", "    ")
		b = append(b, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, b, 0644)
}
