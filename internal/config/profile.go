package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PrinterProfile names a printer and overrides resume defaults for it.
// Zero and empty fields keep the defaults they are applied to.
type PrinterProfile struct {
	Name             string   `yaml:"name"`
	Firmware         string   `yaml:"firmware,omitempty"`
	LayerHeight      float64  `yaml:"layer_height,omitempty"`
	SafeHomeX        *float64 `yaml:"safe_home_x,omitempty"`
	SafeHomeY        *float64 `yaml:"safe_home_y,omitempty"`
	KeepPrefixes     []string `yaml:"keep_prefixes,omitempty"`
	PauseCommand     string   `yaml:"pause_command,omitempty"`
	TemperatureLines int      `yaml:"temperature_scan_lines,omitempty"`
}

// ParsePrinterProfile reads a profile from YAML.
func ParsePrinterProfile(r io.Reader) (*PrinterProfile, error) {
	var p PrinterProfile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty printer profile")
		}
		return nil, fmt.Errorf("failed to parse printer profile: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("printer profile has no name")
	}
	if p.LayerHeight < 0 {
		return nil, fmt.Errorf("printer profile %q: layer height must be positive", p.Name)
	}
	return &p, nil
}

// ParsePrinterProfileFile reads a profile from path.
func ParsePrinterProfileFile(path string) (*PrinterProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePrinterProfile(f)
}

// Apply returns d with the profile's non-zero fields applied.
func (p *PrinterProfile) Apply(d ResumeDefaults) ResumeDefaults {
	if p == nil {
		return d
	}
	if p.LayerHeight > 0 {
		d.LayerHeight = p.LayerHeight
	}
	if p.SafeHomeX != nil {
		d.SafeHomeX = *p.SafeHomeX
	}
	if p.SafeHomeY != nil {
		d.SafeHomeY = *p.SafeHomeY
	}
	if len(p.KeepPrefixes) > 0 {
		d.KeepPrefixes = append([]string(nil), p.KeepPrefixes...)
	}
	if p.PauseCommand != "" {
		d.PauseCommand = p.PauseCommand
	}
	if p.TemperatureLines > 0 {
		d.TemperatureLines = p.TemperatureLines
	}
	return d
}
