// Package styles provides shared lipgloss styles for CLI output and forms.
package styles

import (
	"sort"

	glamouransi "github.com/charmbracelet/glamour/ansi"
	glamourstyles "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Palette defines a minimal semantic theme palette as hex colors.
type Palette struct {
	Primary    string
	Secondary  string
	Foreground string
	Muted      string
	Surface    string
	Success    string
	Warning    string
	Error      string
}

// DefaultTheme is the name of the default theme.
const DefaultTheme = "tokyo-night"

var themes = map[string]Palette{
	"tokyo-night": {
		Primary:    "#7aa2f7",
		Secondary:  "#7dcfff",
		Foreground: "#c0caf5",
		Muted:      "#565f89",
		Surface:    "#3b4261",
		Success:    "#9ece6a",
		Warning:    "#e0af68",
		Error:      "#f7768e",
	},
	"gruvbox": {
		Primary:    "#83a598",
		Secondary:  "#8ec07c",
		Foreground: "#ebdbb2",
		Muted:      "#665c54",
		Surface:    "#3c3836",
		Success:    "#b8bb26",
		Warning:    "#fabd2f",
		Error:      "#fb4934",
	},
}

// ThemeNames returns sorted names of all built-in themes.
func ThemeNames() []string {
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPalette returns the palette for a theme name.
func GetPalette(name string) (Palette, bool) {
	p, ok := themes[name]
	return p, ok
}

// CurrentPalette holds the active theme palette.
var CurrentPalette Palette

var (
	HeaderStyle  lipgloss.Style
	LabelStyle   lipgloss.Style
	ValueStyle   lipgloss.Style
	MutedStyle   lipgloss.Style
	DividerStyle lipgloss.Style
	PanelStyle   lipgloss.Style

	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	ErrorStyle   lipgloss.Style
)

// SetTheme sets the active palette and rebuilds all global styles.
func SetTheme(p Palette) {
	CurrentPalette = p

	HeaderStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(p.Primary)).
		Bold(true)
	LabelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(p.Muted)).
		Width(22)
	ValueStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(p.Foreground))
	MutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(p.Muted))
	DividerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color(p.Surface))
	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(p.Surface)).
		Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Success))
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Warning))
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Error))
}

// ForMode colors a module mode: autopilot acts alone, copilot asks, manual waits.
func ForMode(m string) lipgloss.Style {
	switch m {
	case "autopilot":
		return SuccessStyle
	case "copilot":
		return WarningStyle
	default:
		return MutedStyle
	}
}

// ForStatus colors an action or approval status.
func ForStatus(s string) lipgloss.Style {
	switch s {
	case "completed", "approved", "active":
		return SuccessStyle
	case "failed", "rejected":
		return ErrorStyle
	case "queued", "pending", "executing":
		return WarningStyle
	default:
		return MutedStyle
	}
}

// ForPriority colors an approval priority.
func ForPriority(p string) lipgloss.Style {
	switch p {
	case "urgent":
		return ErrorStyle.Bold(true)
	case "high":
		return WarningStyle
	case "low":
		return MutedStyle
	default:
		return ValueStyle
	}
}

// FormTheme returns a huh theme derived from the active palette.
func FormTheme() *huh.Theme {
	t := huh.ThemeBase()
	p := CurrentPalette

	t.Focused.Base = t.Focused.Base.BorderForeground(lipgloss.Color(p.Primary))
	t.Focused.Title = t.Focused.Title.Foreground(lipgloss.Color(p.Primary)).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(lipgloss.Color(p.Muted))
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(lipgloss.Color(p.Secondary))
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(lipgloss.Color(p.Success))
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(lipgloss.Color(p.Error))
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(lipgloss.Color(p.Error))

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderStyle(lipgloss.HiddenBorder())
	t.Blurred.Title = t.Blurred.Title.Foreground(lipgloss.Color(p.Muted)).Bold(false)
	return t
}

// GlamourStyle returns a Glamour style config derived from the active theme.
func GlamourStyle() glamouransi.StyleConfig {
	cfg := glamourstyles.DarkStyleConfig
	p := CurrentPalette

	cfg.Document.Color = &p.Foreground
	cfg.Paragraph.Color = &p.Foreground

	cfg.Heading.Color = &p.Primary
	cfg.H1.Color = &p.Foreground
	cfg.H1.BackgroundColor = &p.Surface
	cfg.H2.Color = &p.Primary
	cfg.H3.Color = &p.Primary

	cfg.BlockQuote.Color = &p.Muted
	cfg.HorizontalRule.Color = &p.Muted
	cfg.Link.Color = &p.Secondary
	cfg.LinkText.Color = &p.Secondary
	cfg.Code.Color = &p.Secondary
	cfg.CodeBlock.Color = &p.Muted

	return cfg
}

func init() {
	SetTheme(themes[DefaultTheme])
}
