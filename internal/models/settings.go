package models

import "fmt"

// Theme is the color theme of the user interface.
type Theme string

const (
	// ThemeLight is the default theme.
	ThemeLight Theme = "Light"
	// ThemeDark is the dark theme.
	ThemeDark Theme = "Dark"
)

// Themes lists every selectable theme in display order.
var Themes = []Theme{ThemeLight, ThemeDark}

// Settings holds the user preferences persisted next to the chat history.
type Settings struct {
	Theme Theme `json:"theme"`
}

// DefaultSettings returns the settings used when none were saved.
func DefaultSettings() Settings {
	return Settings{Theme: ThemeLight}
}

// ParseTheme converts a theme name into a Theme.
func ParseTheme(s string) (Theme, error) {
	for _, t := range Themes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown theme: %q", s)
}

// UnmarshalText rejects unknown theme names so a corrupted settings file falls back to defaults.
func (t *Theme) UnmarshalText(text []byte) error {
	parsed, err := ParseTheme(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
