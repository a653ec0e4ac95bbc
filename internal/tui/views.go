package tui

import (
	"fmt"
	"strings"

	"github.com/moodmate/moodmate/internal/validate"
	"github.com/moodmate/moodmate/pkg/domain"
)

func loginForm() form {
	return newForm(
		field{key: "email", label: "Email", placeholder: "you@example.com"},
		field{key: "password", label: "Password", placeholder: "your password", secret: true},
	)
}

func registerForm() form {
	return newForm(
		field{key: "name", label: "Name", placeholder: "what should we call you?"},
		field{key: "email", label: "Email", placeholder: "you@example.com"},
		field{key: "password", label: "Password", placeholder: "8+ chars, mixed case, number, symbol", secret: true},
		field{key: "confirm", label: "Confirm password", placeholder: "type it again", secret: true},
	)
}

func forgotForm() form {
	return newForm(
		field{key: "email", label: "Email", placeholder: "the address you signed up with"},
	)
}

func resetForm() form {
	return newForm(
		field{key: "token", label: "Reset token", placeholder: "from your reset email"},
		field{key: "password", label: "New password", placeholder: "8+ chars, mixed case, number, symbol", secret: true},
		field{key: "confirm", label: "Confirm password", placeholder: "type it again", secret: true},
	)
}

func profileForm(u *domain.User) form {
	f := newForm(
		field{key: "name", label: "Name", placeholder: "your display name"},
		field{key: "avatar_url", label: "Avatar URL", placeholder: "https://..."},
	)
	if u != nil {
		f.set("name", u.Name)
		f.set("avatar_url", u.AvatarURL)
	}
	return f
}

func passwordForm() form {
	return newForm(
		field{key: "current", label: "Current password", secret: true},
		field{key: "new", label: "New password", placeholder: "8+ chars, mixed case, number, symbol", secret: true},
		field{key: "confirm", label: "Confirm new password", secret: true},
	)
}

var moods = []struct{ glyph, label string }{
	{"♥", "Happy"},
	{"✦", "Excited"},
	{"☾", "Calm"},
	{"☀", "Energetic"},
}

var spinnerFrames = []string{"◐", "◓", "◑", "◒"}

func (a App) startupView() string {
	s := a.styles
	spin := spinnerFrames[(a.frame/2)%len(spinnerFrames)]
	return "\n" + center(s.accent.Render(spin)+" "+s.dim.Render("Restoring your session..."), a.width)
}

// routeView renders the body and help bar for the current route.
func (a App) routeView() (string, string) {
	s := a.styles
	nav := []string{"1", "home", "2", "about"}
	if a.snap.IsAuthenticated() {
		nav = append(nav, "3", "dashboard", "p", "profile", "c", "password", "o", "sign out")
	} else {
		nav = append(nav, "l", "sign in", "r", "register")
	}
	nav = append(nav, "t", "theme", "q", "quit")
	formHelp := func(extra ...string) string {
		pairs := append([]string{"tab", "next", "enter", "submit"}, extra...)
		return s.helpBar(append(pairs, "esc", "back")...)
	}

	switch a.route {
	case routeLanding:
		return a.landingView(), s.helpBar(nav...)
	case routeAbout:
		return a.aboutView(), s.helpBar(nav...)
	case routeDashboard:
		return a.dashboardView(), s.helpBar(nav...)
	case routeLogin:
		return a.loginView(), formHelp("ctrl+r", "register", "ctrl+f", "forgot")
	case routeRegister:
		return a.registerView(), formHelp("ctrl+l", "sign in")
	case routeForgot:
		extra := []string{"ctrl+n", "have a token"}
		if a.ticket != nil && a.ticket.ResetToken != "" {
			extra = append(extra, "ctrl+y", "copy token")
		}
		return a.forgotView(), formHelp(extra...)
	case routeReset:
		return a.resetView(), formHelp("ctrl+l", "sign in")
	case routeProfile:
		return a.profileView(), formHelp("ctrl+o", "open avatar")
	case routeChangePassword:
		return a.passwordView(), formHelp()
	}
	return a.notFoundView(), s.helpBar(nav...)
}

func (a App) heading(title, subtitle string) string {
	s := a.styles
	out := "  " + s.title.Render(title) + "\n"
	if subtitle != "" {
		out += "  " + s.dim.Render(subtitle) + "\n"
	}
	return out + "\n"
}

func (a App) landingView() string {
	s := a.styles
	mood := moods[(a.frame/25)%len(moods)]

	var b strings.Builder
	b.WriteString(a.heading("Track your mood. Understand yourself.",
		"Your personal companion for emotional well-being."))
	fmt.Fprintf(&b, "  %s %s\n\n", s.accent.Render(mood.glyph), s.text.Render("Feeling "+strings.ToLower(mood.label)+" today?"))

	features := []string{
		"Daily mood check-ins in seconds",
		"Patterns and insights over time",
		"Private by default, your data stays yours",
	}
	for _, f := range features {
		fmt.Fprintf(&b, "  %s %s\n", s.accent.Render("·"), s.dim.Render(f))
	}
	b.WriteString("\n")
	if a.snap.IsAuthenticated() {
		fmt.Fprintf(&b, "  %s\n", s.text.Render("Press 3 to open your dashboard."))
	} else {
		fmt.Fprintf(&b, "  %s\n", s.text.Render("Press l to sign in or r to create an account."))
	}
	return b.String()
}

func (a App) aboutView() string {
	s := a.styles
	var b strings.Builder
	b.WriteString(a.heading("About MoodMate", ""))
	para := func(p string) {
		fmt.Fprintf(&b, "  %s\n\n", s.text.Render(p))
	}
	para("MoodMate is your personal companion for emotional well-being and mood tracking.")
	para("Our mission is to help you understand your emotional patterns and build healthier habits.")
	fmt.Fprintf(&b, "  %s\n", s.accent.Render("Key features"))
	for _, f := range []string{
		"Daily mood tracking with customizable categories",
		"A calm interface that adapts to your preferences",
		"Privacy-focused data handling",
		"Insights and pattern analysis",
	} {
		fmt.Fprintf(&b, "  %s %s\n", s.accent.Render("·"), s.dim.Render(f))
	}
	return b.String()
}

func (a App) dashboardView() string {
	s := a.styles
	u := a.snap.User
	if u == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.heading("Welcome back, "+u.DisplayName()+"!", "Let's track your mood today."))

	rows := [][2]string{
		{"Email", u.Email},
		{"Member since", u.CreatedAt.Format("Jan 2, 2006")},
	}
	if u.LastLogin != nil {
		rows = append(rows, [2]string{"Last sign-in", formatTime(*u.LastLogin)})
	}
	if u.AvatarURL != "" {
		rows = append(rows, [2]string{"Avatar", truncStr(u.AvatarURL, 40)})
	}
	var card strings.Builder
	card.WriteString(s.accent.Render("Account") + "\n")
	for _, r := range rows {
		fmt.Fprintf(&card, "%s %s\n", s.label.Render(fmt.Sprintf("%-13s", r[0])), s.text.Render(r[1]))
	}
	b.WriteString(indent(s.card.Render(strings.TrimRight(card.String(), "\n")), 2))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  %s\n", s.dim.Render("No mood entries yet. Check-ins are coming soon."))
	return b.String()
}

func (a App) loginView() string {
	s := a.styles
	var b strings.Builder
	b.WriteString(a.heading("Welcome back", "Sign in to continue your journey."))
	if a.from != "" {
		fmt.Fprintf(&b, "  %s\n\n", s.dim.Render("Sign in to open "+string(a.from)+"."))
	}
	b.WriteString(a.login.view(s, nil))
	b.WriteString(a.sessionStatus())
	return b.String()
}

func (a App) registerView() string {
	var b strings.Builder
	b.WriteString(a.heading("Create your account", "Start tracking your mood today."))
	b.WriteString(a.register.view(a.styles, a.strengthLine("password", a.register.value("password"))))
	b.WriteString(a.sessionStatus())
	return b.String()
}

// sessionStatus shows the manager's in-flight state and last auth error.
func (a App) sessionStatus() string {
	s := a.styles
	switch {
	case a.snap.Loading:
		return "\n  " + s.dim.Render("Contacting MoodMate...")
	case a.snap.Error != "":
		return "\n  " + s.err.Render(a.snap.Error)
	}
	return ""
}

func (a App) strengthLine(key, pw string) map[string]string {
	if pw == "" {
		return nil
	}
	st := validate.PasswordStrength(pw)
	line := a.styles.meter(st)
	if len(st.Feedback) > 0 {
		line += "  " + a.styles.meta.Render(st.Feedback[0])
	}
	return map[string]string{key: line}
}

func (a App) forgotView() string {
	s := a.styles
	var b strings.Builder
	b.WriteString(a.heading("Forgot your password?", "We'll send you a link to reset it."))
	b.WriteString(a.forgot.view(s, nil))
	if a.ticket != nil && a.ticket.ResetToken != "" {
		fmt.Fprintf(&b, "\n\n  %s\n  %s\n", s.dim.Render("Development reset token:"), s.accent.Render(a.ticket.ResetToken))
	}
	return b.String()
}

func (a App) resetView() string {
	var b strings.Builder
	b.WriteString(a.heading("Reset your password", "Choose a new password for your account."))
	b.WriteString(a.reset.view(a.styles, a.strengthLine("password", a.reset.value("password"))))
	return b.String()
}

func (a App) profileView() string {
	s := a.styles
	var b strings.Builder
	b.WriteString(a.heading("Profile", "How you appear in MoodMate."))
	if u := a.snap.User; u != nil {
		fmt.Fprintf(&b, "  %s %s\n\n", s.label.Render("Email"), s.text.Render(u.Email))
	}
	b.WriteString(a.profile.view(s, nil))
	return b.String()
}

func (a App) passwordView() string {
	var b strings.Builder
	b.WriteString(a.heading("Change password", "Use a password you don't use anywhere else."))
	b.WriteString(a.password.view(a.styles, a.strengthLine("new", a.password.value("new"))))
	return b.String()
}

func (a App) notFoundView() string {
	s := a.styles
	return a.heading("404", "Page not found") +
		"  " + s.dim.Render("The page you're looking for doesn't exist. Press 1 to go home.") + "\n"
}

func indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}
