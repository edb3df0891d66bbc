// Package styles provides the colour theme for terminal summaries.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colour palette.
type Theme struct {
	// Primary is the main accent colour.
	Primary lipgloss.Color

	// Secondary is the secondary accent colour.
	Secondary lipgloss.Color

	// Muted is for less important text.
	Muted lipgloss.Color

	// Success marks good scores.
	Success lipgloss.Color

	// Warning marks middling scores and partial runs.
	Warning lipgloss.Color

	// Error marks poor scores and failures.
	Error lipgloss.Color

	// Border is the border colour.
	Border lipgloss.Color
}

// DefaultTheme returns the default colour theme.
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#7C3AED"), // Purple
		Secondary: lipgloss.Color("#06B6D4"), // Cyan
		Muted:     lipgloss.Color("#6C7086"), // Medium gray
		Success:   lipgloss.Color("#A6E3A1"), // Green
		Warning:   lipgloss.Color("#F9E2AF"), // Yellow
		Error:     lipgloss.Color("#F38BA8"), // Red
		Border:    lipgloss.Color("#45475A"), // Border gray
	}
}

// Score thresholds for colouring metric values.
const (
	GoodScore = 0.7
	FairScore = 0.4
)

// Styles contains pre-configured lipgloss styles.
type Styles struct {
	theme *Theme

	// Title style for headers.
	Title lipgloss.Style

	// Label style for metric names.
	Label lipgloss.Style

	// Muted style for less important text.
	Muted lipgloss.Style

	// Good, Fair and Poor colour score values.
	Good lipgloss.Style
	Fair lipgloss.Style
	Poor lipgloss.Style

	// Warning style for partial runs and skipped records.
	Warning lipgloss.Style

	// Box style for the summary panel.
	Box lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(theme *Theme) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}

	return &Styles{
		theme: theme,

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.Primary),

		Label: lipgloss.NewStyle().
			Foreground(theme.Secondary).
			Width(20),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Good: lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.Success),

		Fair: lipgloss.NewStyle().
			Foreground(theme.Warning),

		Poor: lipgloss.NewStyle().
			Foreground(theme.Error),

		Warning: lipgloss.NewStyle().
			Foreground(theme.Warning),

		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),
	}
}

// DefaultStyles returns styles with the default theme.
func DefaultStyles() *Styles {
	return NewStyles(DefaultTheme())
}

// Plain returns unstyled output for pipes and files. Labels keep their
// width so columns still line up.
func Plain() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		theme:   DefaultTheme(),
		Title:   plain,
		Label:   plain.Width(20),
		Muted:   plain,
		Good:    plain,
		Fair:    plain,
		Poor:    plain,
		Warning: plain,
		Box:     plain,
	}
}

// Theme returns the theme used by these styles.
func (s *Styles) Theme() *Theme {
	return s.theme
}

// Score renders v with four decimals, coloured by threshold.
func (s *Styles) Score(v float64) string {
	text := fmt.Sprintf("%.4f", v)
	switch {
	case v >= GoodScore:
		return s.Good.Render(text)
	case v >= FairScore:
		return s.Fair.Render(text)
	default:
		return s.Poor.Render(text)
	}
}
