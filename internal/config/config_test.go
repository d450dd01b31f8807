package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// TestLoad_FullConfig tests parsing a complete configuration file
func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
timezone: Europe/Amsterdam
latitude: 52.37
longitude: 4.89
http:
  port: 9000
cache:
  path: /var/lib/homeapps/cache.db
apps:
  climate:
    temp_threshold: 25.5
  motion_lights:
    - name: hallway
      motion_entity: binary_sensor.hallway_motion
`)

	cfg, err := Load(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Latitude != 52.37 || cfg.Longitude != 4.89 {
		t.Errorf("Unexpected coordinates: %f, %f", cfg.Latitude, cfg.Longitude)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Cache.Path != "/var/lib/homeapps/cache.db" {
		t.Errorf("Unexpected cache path: %s", cfg.Cache.Path)
	}
	if cfg.Location().String() != "Europe/Amsterdam" {
		t.Errorf("Unexpected location: %s", cfg.Location())
	}
	if len(cfg.Apps) != 2 {
		t.Errorf("Expected 2 app sections, got %d", len(cfg.Apps))
	}
}

// TestLoad_MissingFile tests that an absent file yields defaults
func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got: %v", err)
	}

	if cfg.HTTP.Port != 8126 {
		t.Errorf("Expected default port 8126, got %d", cfg.HTTP.Port)
	}
	if cfg.Cache.Path != "data/cache.db" {
		t.Errorf("Expected default cache path, got %s", cfg.Cache.Path)
	}
}

// TestLoad_InvalidTimezone tests timezone validation
func TestLoad_InvalidTimezone(t *testing.T) {
	path := writeConfig(t, "timezone: Mars/Olympus\n")

	if _, err := Load(path, zap.NewNop()); err == nil {
		t.Error("Expected error for invalid timezone, got nil")
	}
}

// TestLoad_InvalidYAML tests parse error handling
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "timezone: [unclosed\n")

	if _, err := Load(path, zap.NewNop()); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

// TestAppSection tests decoding a single app's section
func TestAppSection(t *testing.T) {
	path := writeConfig(t, `
apps:
  climate:
    temp_threshold: 26
    ac_switch: switch.office_ac
`)

	cfg, err := Load(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	var section struct {
		TempThreshold float64 `yaml:"temp_threshold"`
		ACSwitch      string  `yaml:"ac_switch"`
	}
	found, err := cfg.AppSection("climate", &section)
	if err != nil {
		t.Fatalf("Failed to decode section: %v", err)
	}
	if !found {
		t.Fatal("Expected climate section to be found")
	}
	if section.TempThreshold != 26 || section.ACSwitch != "switch.office_ac" {
		t.Errorf("Unexpected section values: %+v", section)
	}

	// Absent sections report found=false and leave dest untouched.
	section.TempThreshold = 24
	found, err = cfg.AppSection("security", &section)
	if err != nil {
		t.Fatalf("Unexpected error for absent section: %v", err)
	}
	if found {
		t.Error("Expected security section to be absent")
	}
	if section.TempThreshold != 24 {
		t.Error("Expected dest to be untouched for absent section")
	}
}

// TestAppSection_DecodeError tests that a malformed section surfaces an error
func TestAppSection_DecodeError(t *testing.T) {
	path := writeConfig(t, `
apps:
  climate:
    temp_threshold: not_a_number
`)

	cfg, err := Load(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	var section struct {
		TempThreshold float64 `yaml:"temp_threshold"`
	}
	if _, err := cfg.AppSection("climate", &section); err == nil {
		t.Error("Expected decode error, got nil")
	}
}

func TestDuration_Forms(t *testing.T) {
	tests := []struct {
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{"60", 60 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{`"90s"`, 90 * time.Second, false},
		{`"5m"`, 5 * time.Minute, false},
		{`"2h30m"`, 2*time.Hour + 30*time.Minute, false},
		{`"soon"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.yaml, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tt.yaml), &d)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %s, got nil", tt.yaml)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %s: %v", tt.yaml, err)
			}
			if d.Std() != tt.want {
				t.Errorf("Expected %v for %s, got %v", tt.want, tt.yaml, d.Std())
			}
		})
	}
}

func TestClockTime_Forms(t *testing.T) {
	tests := []struct {
		yaml       string
		wantHour   int
		wantMinute int
		wantErr    bool
	}{
		{`"07:30"`, 7, 30, false},
		{`"22:00"`, 22, 0, false},
		{`"00:00"`, 0, 0, false},
		{`"25:00"`, 0, 0, true},
		{`"7:3:1"`, 0, 0, true},
		{`"noon"`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.yaml, func(t *testing.T) {
			var ct ClockTime
			err := yaml.Unmarshal([]byte(tt.yaml), &ct)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %s, got nil", tt.yaml)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %s: %v", tt.yaml, err)
			}
			if ct.Hour != tt.wantHour || ct.Minute != tt.wantMinute {
				t.Errorf("Expected %02d:%02d for %s, got %02d:%02d",
					tt.wantHour, tt.wantMinute, tt.yaml, ct.Hour, ct.Minute)
			}
		})
	}
}
