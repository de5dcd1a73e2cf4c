package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
)

var (
	ImageStyles = []string{"illustration", "realistic", "cartoon", "sketch", "painting", "digital art"}
	ImageSizes  = []string{"256x256", "512x512", "1024x1024"}
)

// Settings are the user preferences kept between runs.
type Settings struct {
	ImageStyle    string `json:"image_style"`
	ImageSize     string `json:"image_size"`
	EnableHistory bool   `json:"enable_history"`
	AutoSave      bool   `json:"auto_save"`
}

func DefaultSettings() Settings {
	return Settings{
		ImageStyle:    "illustration",
		ImageSize:     "512x512",
		EnableHistory: true,
		AutoSave:      true,
	}
}

// LoadSettings reads the settings file at path, or the default location when
// path is empty. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		path = SettingsPath()
	}
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return DefaultSettings(), fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Settings) Save(path string) error {
	if path == "" {
		path = SettingsPath()
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s Settings) Validate() error {
	if !slices.Contains(ImageStyles, s.ImageStyle) {
		return fmt.Errorf("unknown image_style %q", s.ImageStyle)
	}
	if !slices.Contains(ImageSizes, s.ImageSize) {
		return fmt.Errorf("unknown image_size %q", s.ImageSize)
	}
	return nil
}

// CycleStyle returns the settings with the next image style selected.
func (s Settings) CycleStyle() Settings {
	s.ImageStyle = cycle(ImageStyles, s.ImageStyle)
	return s
}

func (s Settings) CycleSize() Settings {
	s.ImageSize = cycle(ImageSizes, s.ImageSize)
	return s
}

func cycle(opts []string, cur string) string {
	i := slices.Index(opts, cur)
	return opts[(i+1)%len(opts)]
}

// SettingsPath returns the platform-specific settings file path.
func SettingsPath() string {
	var base string
	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}
	return filepath.Join(base, "echosketch", "settings.json")
}
