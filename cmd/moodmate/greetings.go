package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/moodmate/moodmate/pkg/domain"
)

var moodGreetings = [...]string{
	"How are you feeling today? Honestly.",
	"Small check-ins add up to big insights.",
	"Every mood is data. None of it is wrong.",
	"Name the feeling. It gets a little smaller.",
	"You showed up. That counts.",
	"Calm, chaotic, or somewhere in between. Log it.",
	"Patterns appear when you keep looking.",
	"Take a breath before the next command.",
	"Good days and hard days both belong in the journal.",
	"Curiosity over judgment. Especially about yourself.",
}

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a78bfa")).Bold(true)
	quoteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	cmdStyle   = lipgloss.NewStyle().Bold(true)
	descStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	cardStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a2440")).
			Padding(0, 2)
)

func printHelp(w io.Writer) {
	title := titleStyle.Render("M O O D M A T E")
	quote := quoteStyle.Render(moodGreetings[rand.IntN(len(moodGreetings))])

	commands := []struct{ cmd, desc string }{
		{"moodmate", "Open the interactive app"},
		{"moodmate /profile", "Open the interactive app at a view"},
		{"moodmate login [email]", "Sign in"},
		{"moodmate register [email]", "Create an account"},
		{"moodmate logout", "Sign out and forget this device's session"},
		{"moodmate whoami", "Show the signed-in account"},
		{"moodmate profile", "Show or edit your profile (--name, --avatar)"},
		{"moodmate passwd", "Change your password"},
		{"moodmate forgot [email]", "Request a password reset"},
		{"moodmate reset [token]", "Set a new password with a reset token"},
		{"moodmate about", "About MoodMate"},
		{"moodmate --version", "Show version"},
		{"moodmate help", "You are here"},
	}

	fmt.Fprintf(w, "\n  %s\n\n  %s\n\n  Commands:\n", title, quote) //nolint:errcheck
	for _, c := range commands {
		fmt.Fprintf(w, "    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-28s", c.cmd)), descStyle.Render(c.desc)) //nolint:errcheck
	}
	fmt.Fprintf(w, "\n  %s\n", descStyle.Render("Global flags: --ephemeral keeps the session in memory only.")) //nolint:errcheck
	fmt.Fprintf(w, "  %s\n\n", descStyle.Render("Environment: MOODMATE_API_URL, MOODMATE_HOME, MOODMATE_LOG_LEVEL, MOODMATE_TIMEOUT")) //nolint:errcheck
}

func printAbout(w io.Writer) {
	fmt.Fprintf(w, "\n  %s\n\n", titleStyle.Render("About MoodMate")) //nolint:errcheck
	for _, p := range []string{
		"MoodMate is your personal companion for emotional well-being and mood tracking.",
		"Our mission is to help you understand your emotional patterns and build healthier habits.",
	} {
		fmt.Fprintf(w, "  %s\n\n", p) //nolint:errcheck
	}
	fmt.Fprintf(w, "  %s %s\n\n", descStyle.Render("version"), version) //nolint:errcheck
}

// printUser renders the account card shown by whoami and profile.
func printUser(w io.Writer, u *domain.User) {
	if u == nil {
		return
	}
	row := func(label, value string) string {
		return labelStyle.Render(label) + value + "\n"
	}
	body := titleStyle.Render(u.DisplayName()) + "\n\n" +
		row("Email", u.Email)
	if u.AvatarURL != "" {
		body += row("Avatar", u.AvatarURL)
	}
	if !u.CreatedAt.IsZero() {
		body += row("Member since", u.CreatedAt.Format("Jan 2, 2006"))
	}
	if u.LastLogin != nil {
		body += row("Last sign-in", u.LastLogin.Local().Format(time.DateTime))
	}
	status := "active"
	if !u.IsActive {
		status = "inactive"
	}
	body += labelStyle.Render("Status") + status
	fmt.Fprintln(w, cardStyle.Render(body)) //nolint:errcheck
}
