package cli

import (
	"fmt"
	"os"
	"strings"
)

// ColorRole identifies a semantic color in the theme.
type ColorRole int

const (
	RoleSuccess ColorRole = iota
	RoleError
	RoleWarn
	RoleInfo
	RoleAccent
	RoleHeading
	RoleMuted
)

// Theme maps color roles to ANSI escape sequences.
type Theme struct {
	Name   string
	Colors map[ColorRole]string
}

// Built-in themes. "default" uses RGB true-color; "minimal" disables all
// role colors for logs that must stay plain even on a TTY.
var themes = map[string]*Theme{
	"default": {
		Name: "default",
		Colors: map[ColorRole]string{
			RoleSuccess: "\033[38;2;45;140;90m",
			RoleError:   "\033[38;2;196;48;48m",
			RoleWarn:    "\033[38;2;212;148;10m",
			RoleInfo:    "\033[36m",
			RoleAccent:  "\033[38;2;232;93;58m",
			RoleHeading: "\033[1m",
			RoleMuted:   "\033[38;2;140;140;140m",
		},
	},
	"minimal": {
		Name: "minimal",
		Colors: map[ColorRole]string{
			RoleSuccess: "",
			RoleError:   "",
			RoleWarn:    "",
			RoleInfo:    "",
			RoleAccent:  "",
			RoleHeading: "",
			RoleMuted:   "",
		},
	},
}

// currentTheme is the active theme, selected at startup from the
// INTENTC_THEME environment variable.
var currentTheme = initTheme()

func initTheme() *Theme {
	if name := os.Getenv("INTENTC_THEME"); name != "" {
		if t, ok := themes[strings.ToLower(name)]; ok {
			return t
		}
	}
	return themes["default"]
}

// SetTheme changes the active theme. Returns an error if the name is unknown.
func SetTheme(name string) error {
	t, ok := themes[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown theme %q — available: %s", name, strings.Join(ThemeNames(), ", "))
	}
	currentTheme = t
	return nil
}

// CurrentThemeName returns the name of the active theme.
func CurrentThemeName() string {
	return currentTheme.Name
}

// ThemeNames returns the available theme names in display order.
func ThemeNames() []string {
	return []string{"default", "minimal"}
}

// Colorize wraps msg in the current theme's color for the given role.
func Colorize(role ColorRole, msg string) string {
	if !ColorEnabled {
		return msg
	}
	c := currentTheme.Colors[role]
	if c == "" {
		return msg
	}
	return c + msg + reset
}

// Accent formats text in the theme's accent color.
func Accent(msg string) string {
	return Colorize(RoleAccent, msg)
}

// Heading formats text in the theme's heading style.
func Heading(msg string) string {
	return Colorize(RoleHeading, msg)
}

// Muted formats text in the theme's muted color.
func Muted(msg string) string {
	return Colorize(RoleMuted, msg)
}
