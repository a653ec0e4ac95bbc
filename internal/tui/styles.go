package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/moodmate/moodmate/internal/validate"
)

// Shimmer animation for the MOODMATE logo.
type shimmerTickMsg time.Time

func shimmerTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return shimmerTickMsg(t)
	})
}

type theme string

const (
	themeDark  theme = "dark"
	themeLight theme = "light"
)

func parseTheme(s string) (theme, bool) {
	switch theme(strings.TrimSpace(s)) {
	case themeDark:
		return themeDark, true
	case themeLight:
		return themeLight, true
	}
	return "", false
}

func (t theme) toggle() theme {
	if t == themeLight {
		return themeDark
	}
	return themeLight
}

// palette holds hex colors for one theme.
type palette struct {
	logoDeep   string
	logoBright string
	text       string
	dim        string
	meta       string
	accent     string
	errColor   string
	okColor    string
	border     string
	meter      [validate.MaxStrength + 1]string
}

var palettes = map[theme]palette{
	themeDark: {
		logoDeep:   "#3b1f6e",
		logoBright: "#c4b5fd",
		text:       "#e4e4ec",
		dim:        "#8890a0",
		meta:       "#505868",
		accent:     "#a78bfa",
		errColor:   "#e06060",
		okColor:    "#34d474",
		border:     "#2a2440",
		meter:      [...]string{"#505868", "#e06060", "#f0944a", "#d4a844", "#60a0e0", "#34d474"},
	},
	themeLight: {
		logoDeep:   "#a78bfa",
		logoBright: "#5b21b6",
		text:       "#1f2030",
		dim:        "#4a5060",
		meta:       "#8890a0",
		accent:     "#7c3aed",
		errColor:   "#b91c1c",
		okColor:    "#15803d",
		border:     "#d8d4ea",
		meter:      [...]string{"#c0c4d0", "#b91c1c", "#c2410c", "#a16207", "#1d4ed8", "#15803d"},
	},
}

// styles is the rendered style set for the active theme.
type styles struct {
	theme   theme
	pal     palette
	title   lipgloss.Style
	text    lipgloss.Style
	dim     lipgloss.Style
	meta    lipgloss.Style
	accent  lipgloss.Style
	err     lipgloss.Style
	ok      lipgloss.Style
	label   lipgloss.Style
	focused lipgloss.Style
	card    lipgloss.Style
	helpKey lipgloss.Style
	helpLbl lipgloss.Style
	holder  lipgloss.Style
}

func newStyles(t theme) styles {
	p, ok := palettes[t]
	if !ok {
		t, p = themeDark, palettes[themeDark]
	}
	fg := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}
	return styles{
		theme:   t,
		pal:     p,
		title:   fg(p.text).Bold(true),
		text:    fg(p.text),
		dim:     fg(p.dim),
		meta:    fg(p.meta),
		accent:  fg(p.accent).Bold(true),
		err:     fg(p.errColor),
		ok:      fg(p.okColor),
		label:   fg(p.dim),
		focused: fg(p.accent).Bold(true),
		card: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(p.border)).
			Padding(0, 2),
		helpKey: fg(p.dim),
		helpLbl: fg(p.meta),
		holder:  fg(p.meta).Italic(true),
	}
}

// logo renders "M O O D M A T E" as a wave of light flowing between the
// palette's deep and bright logo colors.
func (s styles) logo(frame int) string {
	const text = "MOODMATE"
	n := len(text)

	r0, g0, b0 := hexToRGB(s.pal.logoDeep)
	r1, g1, b1 := hexToRGB(s.pal.logoBright)
	t := float64(frame)

	var out strings.Builder
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)

		phase := t*0.1 - x*3.0
		phase += math.Sin(t*0.023) * 2.0

		b := math.Sin(phase)*0.5 + 0.5
		b = math.Pow(b, 1.3)

		// Slow breathing tide
		tide := math.Sin(t*0.035) * 0.12
		b = b*0.75 + tide + 0.18

		if b > 1.0 {
			b = 1.0
		} else if b < 0.05 {
			b = 0.05
		}

		r := clampByte(float64(r0) + b*float64(r1-r0))
		g := clampByte(float64(g0) + b*float64(g1-g0))
		bl := clampByte(float64(b0) + b*float64(b1-b0))

		color := fmt.Sprintf("#%02X%02X%02X", r, g, bl)
		out.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color)).Render(string(text[i])))

		if i < n-1 {
			out.WriteString("  ")
		}
	}
	return out.String()
}

// meter renders the password strength bar with its label.
func (s styles) meter(st validate.Strength) string {
	score := min(max(st.Score, 0), validate.MaxStrength)
	color := lipgloss.NewStyle().Foreground(lipgloss.Color(s.pal.meter[score]))
	bar := color.Render(strings.Repeat("■", score)) +
		s.meta.Render(strings.Repeat("□", validate.MaxStrength-score))
	return bar + " " + color.Render(st.Label)
}

// helpEntry renders a single "key label" pair for help bars.
func (s styles) helpEntry(key, label string) string {
	return s.helpKey.Render(key) + " " + s.helpLbl.Render(label)
}

func (s styles) helpBar(pairs ...string) string {
	entries := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, s.helpEntry(pairs[i], pairs[i+1]))
	}
	return " " + strings.Join(entries, "  ")
}

func clampByte(v float64) int {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return int(v)
}

// hexToRGB parses a hex color string (#RRGGBB) into r,g,b ints.
func hexToRGB(hex string) (int, int, int) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 128, 128, 128
	}
	var r, g, b int
	_, _ = fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b) //nolint:errcheck
	return r, g, b
}

// center pads s so it sits in the middle of width columns.
func center(s string, width int) string {
	pad := (width - lipgloss.Width(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + s
}
