package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/moodmate/moodmate/internal/browser"
	"github.com/moodmate/moodmate/internal/session"
	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/internal/validate"
	"github.com/moodmate/moodmate/pkg/client"
	"github.com/moodmate/moodmate/pkg/domain"
)

// Recovery is the password reset part of the backend used by the
// signed-out views. *client.Client satisfies it.
type Recovery interface {
	ForgotPassword(ctx context.Context, email string) (*domain.PasswordResetTicket, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Config wires the app to its collaborators. Session is required.
type Config struct {
	Session  *session.Manager
	Recovery Recovery
	Store    storage.Store // theme preference
	Router   *Router
	Log      *zap.Logger
	Version  string
	Route    string // initial route, "/" when empty
}

type (
	initDoneMsg session.Outcome
	snapshotMsg session.Snapshot

	authDoneMsg struct {
		route route
		res   session.Result
	}
	profileSavedMsg    struct{ res session.Result }
	passwordChangedMsg struct{ res session.Result }
	forgotDoneMsg      struct {
		ticket *domain.PasswordResetTicket
		err    error
	}
	resetDoneMsg  struct{ err error }
	logoutDoneMsg struct{}
	clipboardMsg  struct{ err error }
)

// App is the root Bubbletea model.
type App struct {
	sess     *session.Manager
	recovery Recovery
	store    storage.Store
	router   *Router
	log      *zap.Logger
	version  string

	ctx    context.Context
	cancel context.CancelFunc
	snaps  <-chan session.Snapshot
	unsub  func()

	snap   session.Snapshot
	ready  bool // Initialize has returned
	route  route
	from   route // protected route to resume after login
	notice string
	ticket *domain.PasswordResetTicket

	styles   styles
	login    form
	register form
	forgot   form
	reset    form
	profile  form
	password form

	width  int
	height int
	frame  int
}

// NewApp creates the TUI application and subscribes it to the session.
func NewApp(cfg Config) App {
	if cfg.Session == nil {
		panic("tui.NewApp: session is required")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	store := cfg.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	router := cfg.Router
	if router == nil {
		router = NewRouter()
	}

	ctx, cancel := context.WithCancel(context.Background())
	snaps, unsub := cfg.Session.Subscribe()
	a := App{
		sess:     cfg.Session,
		recovery: cfg.Recovery,
		store:    store,
		router:   router,
		log:      log,
		version:  cfg.Version,
		ctx:      ctx,
		cancel:   cancel,
		snaps:    snaps,
		unsub:    unsub,
		snap:     cfg.Session.Snapshot(),
		route:    parseRoute(cfg.Route),
		styles:   newStyles(loadTheme(store, log)),
		login:    loginForm(),
		register: registerForm(),
		forgot:   forgotForm(),
		reset:    resetForm(),
		profile:  profileForm(nil),
		password: passwordForm(),
	}
	return a
}

func loadTheme(store storage.Store, log *zap.Logger) theme {
	v, err := storage.Lookup(store, storage.KeyTheme)
	if err != nil {
		log.Warn("read theme preference", zap.Error(err))
	}
	if t, ok := parseTheme(v); ok {
		return t
	}
	if lipgloss.HasDarkBackground() {
		return themeDark
	}
	return themeLight
}

func (a App) Init() tea.Cmd {
	return tea.Batch(shimmerTickCmd(), a.initialize(), waitSnapshot(a.snaps), a.router.wait())
}

func (a App) initialize() tea.Cmd {
	sess, ctx := a.sess, a.ctx
	return func() tea.Msg {
		return initDoneMsg(sess.Initialize(ctx))
	}
}

func waitSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case shimmerTickMsg:
		a.frame++
		return a, shimmerTickCmd()

	case snapshotMsg:
		a.snap = session.Snapshot(msg)
		// A protected view loses its user when the session expires.
		if a.ready && a.route.protected() && !a.snap.IsAuthenticated() {
			a = a.goTo(a.route)
		}
		return a, waitSnapshot(a.snaps)

	case navigateMsg:
		return a.goTo(route(msg)), a.router.wait()

	case initDoneMsg:
		a.ready = true
		a.snap = a.sess.Snapshot()
		a.log.Debug("session initialized", zap.Stringer("outcome", session.Outcome(msg)))
		return a.goTo(a.route), nil

	case authDoneMsg:
		return a.authDone(msg), nil

	case profileSavedMsg:
		a.profile.pending = false
		if msg.res.Success {
			a.snap = a.sess.Snapshot()
			a.profile.status = "Profile updated successfully"
			return a, nil
		}
		return a.authorizedFailed(routeProfile, msg.res), nil

	case passwordChangedMsg:
		a.password.pending = false
		if msg.res.Success {
			a.password = passwordForm()
			a.password.status = "Password changed successfully"
			return a, nil
		}
		return a.authorizedFailed(routeChangePassword, msg.res), nil

	case forgotDoneMsg:
		a.forgot.pending = false
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				a.forgot.failWith(recoveryMessage(msg.err, "Failed to send reset email. Please try again."))
			}
			return a, nil
		}
		a.ticket = msg.ticket
		a.forgot.status = "If that email is registered, a reset link is on its way."
		if msg.ticket != nil && msg.ticket.Message != "" {
			a.forgot.status = msg.ticket.Message
		}
		return a, nil

	case resetDoneMsg:
		a.reset.pending = false
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				a.reset.failWith(recoveryMessage(msg.err, "Failed to reset password. The link may have expired."))
			}
			return a, nil
		}
		a.ticket = nil
		a = a.goTo(routeLogin)
		a.notice = "Password reset successfully. Please sign in with your new password."
		return a, nil

	case logoutDoneMsg:
		a.notice = "Signed out. Take care."
		return a, nil

	case clipboardMsg:
		if msg.err != nil {
			a.log.Warn("copy reset token", zap.Error(msg.err))
			a.forgot.failWith("Could not copy to the clipboard.")
		} else {
			a.forgot.status = "Reset token copied to the clipboard."
		}
		return a, nil

	case tea.KeyMsg:
		return a.updateKeys(msg)
	}
	return a, nil
}

func (a App) authDone(msg authDoneMsg) App {
	f := a.formFor(msg.route)
	if f != nil {
		f.pending = false
	}
	a.snap = a.sess.Snapshot()
	if msg.res.Success {
		target := a.from
		if target == "" {
			target = routeDashboard
		}
		a.from = ""
		a = a.goTo(target)
		if msg.res.User != nil {
			a.notice = "Welcome, " + msg.res.User.DisplayName() + "."
		}
		return a
	}
	// Backend failures surface through the snapshot's Error.
	if errors.Is(msg.res.Err, session.ErrBusy) && f != nil {
		f.failWith(msg.res.Error)
	}
	return a
}

// authorizedFailed handles a failed profile or password call. When the
// session ended underneath it the gate sends the user to login.
func (a App) authorizedFailed(r route, res session.Result) App {
	if errors.Is(res.Err, context.Canceled) {
		return a
	}
	a.snap = a.sess.Snapshot()
	if !a.snap.IsAuthenticated() {
		a = a.goTo(a.route)
		a.notice = res.Error
		return a
	}
	a.formFor(r).failWith(res.Error)
	return a
}

func recoveryMessage(err error, fallback string) string {
	if msg, ok := client.ServerMessage(err); ok {
		return msg
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return fallback
	}
	return "Network error. Please check your connection and try again."
}

// goTo switches routes through the auth gate: protected routes need a
// user and are remembered for after login; login and register send a
// signed-in user to the dashboard. The gate waits for Initialize.
func (a App) goTo(r route) App {
	if a.ready {
		authed := a.snap.IsAuthenticated()
		switch {
		case r.protected() && !authed:
			a.from = r
			r = routeLogin
		case r.guestOnly() && authed:
			r = routeDashboard
		}
	}
	switch r {
	case routeLanding, routeAbout, routeNotFound:
		a.from = ""
	}
	return a.enter(r)
}

// enter makes r current and resets its view state.
func (a App) enter(r route) App {
	a.route = r
	switch r {
	case routeLogin:
		a.login = loginForm()
		a = a.clearSessionError()
	case routeRegister:
		a.register = registerForm()
		a = a.clearSessionError()
	case routeForgot:
		a.forgot = forgotForm()
		a.ticket = nil
	case routeReset:
		a.reset = resetForm()
		if a.ticket != nil {
			a.reset.set("token", a.ticket.ResetToken)
			a.reset.focus = 1
		}
	case routeProfile:
		a.profile = profileForm(a.snap.User)
	case routeChangePassword:
		a.password = passwordForm()
	}
	return a
}

func (a App) clearSessionError() App {
	if a.snap.Error != "" {
		a.sess.ClearError()
		a.snap.Error = ""
	}
	return a
}

func (a *App) formFor(r route) *form {
	switch r {
	case routeLogin:
		return &a.login
	case routeRegister:
		return &a.register
	case routeForgot:
		return &a.forgot
	case routeReset:
		return &a.reset
	case routeProfile:
		return &a.profile
	case routeChangePassword:
		return &a.password
	}
	return nil
}

func (a App) quit() (tea.Model, tea.Cmd) {
	a.cancel()
	a.unsub()
	return a, tea.Quit
}

func (a App) toggleTheme() App {
	next := a.styles.theme.toggle()
	a.styles = newStyles(next)
	if err := a.store.Set(storage.KeyTheme, string(next)); err != nil {
		a.log.Warn("persist theme preference", zap.Error(err))
	}
	return a
}

func (a App) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if msg.Type == tea.KeyCtrlC {
		return a.quit()
	}
	if !a.ready {
		if key == "q" {
			return a.quit()
		}
		return a, nil
	}
	a.notice = ""
	if msg.Type == tea.KeyCtrlT {
		return a.toggleTheme(), nil
	}
	if a.route.isForm() {
		return a.updateFormKeys(msg)
	}

	switch key {
	case "q":
		return a.quit()
	case "t":
		return a.toggleTheme(), nil
	case "1", "esc":
		return a.goTo(routeLanding), nil
	case "2", "a":
		return a.goTo(routeAbout), nil
	case "3", "d":
		return a.goTo(routeDashboard), nil
	case "p":
		return a.goTo(routeProfile), nil
	case "c":
		return a.goTo(routeChangePassword), nil
	case "l":
		return a.goTo(routeLogin), nil
	case "r":
		return a.goTo(routeRegister), nil
	case "o":
		if a.snap.IsAuthenticated() {
			return a, a.logout()
		}
	}
	return a, nil
}

func (a App) updateFormKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Typed text never triggers a shortcut.
	key := msg.String()
	if msg.Type == tea.KeyRunes {
		key = ""
	}
	switch key {
	case "esc":
		return a.goTo(a.route.back()), nil
	case "ctrl+r":
		if a.route == routeLogin {
			return a.goTo(routeRegister), nil
		}
	case "ctrl+l":
		if a.route == routeRegister || a.route == routeForgot || a.route == routeReset {
			return a.goTo(routeLogin), nil
		}
	case "ctrl+f":
		if a.route == routeLogin {
			return a.goTo(routeForgot), nil
		}
	case "ctrl+y":
		if a.route == routeForgot && a.ticket != nil && a.ticket.ResetToken != "" {
			return a, copyToClipboard(a.ticket.ResetToken)
		}
	case "ctrl+n":
		if a.route == routeForgot {
			return a.goTo(routeReset), nil
		}
	case "ctrl+o":
		if a.route == routeProfile {
			return a.openAvatar(), nil
		}
	}

	f := a.formFor(a.route)
	next, submit := f.update(msg)
	*f = next
	if submit {
		return a.submit()
	}
	if a.route.guestOnly() && (msg.Type == tea.KeyRunes || msg.Type == tea.KeyBackspace) {
		a = a.clearSessionError()
	}
	return a, nil
}

func (r route) back() route {
	switch r {
	case routeProfile, routeChangePassword:
		return routeDashboard
	case routeReset:
		return routeLogin
	}
	return routeLanding
}

func (a App) openAvatar() App {
	url := ""
	if a.snap.User != nil {
		url = a.snap.User.AvatarURL
	}
	if url == "" {
		a.profile.failWith("No avatar URL to open.")
		return a
	}
	if err := browser.Open(url); err != nil {
		a.log.Warn("open avatar", zap.Error(err))
		a.profile.failWith("Could not open a browser. Visit " + url)
	}
	return a
}

func copyToClipboard(text string) tea.Cmd {
	return func() tea.Msg {
		return clipboardMsg{err: clipboard.WriteAll(text)}
	}
}

func (a App) logout() tea.Cmd {
	sess, ctx := a.sess, a.ctx
	return func() tea.Msg {
		sess.Logout(ctx)
		return logoutDoneMsg{}
	}
}

// submit validates the current form and starts its request.
func (a App) submit() (tea.Model, tea.Cmd) {
	sess, rec, ctx := a.sess, a.recovery, a.ctx

	switch a.route {
	case routeLogin:
		f := &a.login
		email, pw := strings.TrimSpace(f.value("email")), f.value("password")
		if errs := validate.Login(email, pw); !errs.OK() {
			f.fail(errs)
			return a, nil
		}
		f.pending = true
		return a, func() tea.Msg {
			return authDoneMsg{route: routeLogin, res: sess.Login(ctx, email, pw)}
		}

	case routeRegister:
		f := &a.register
		name := strings.TrimSpace(f.value("name"))
		email := strings.TrimSpace(f.value("email"))
		pw := f.value("password")
		if errs := validate.Register(name, email, pw, f.value("confirm")); !errs.OK() {
			f.fail(errs)
			return a, nil
		}
		f.pending = true
		return a, func() tea.Msg {
			return authDoneMsg{route: routeRegister, res: sess.Register(ctx, name, email, pw)}
		}

	case routeForgot:
		f := &a.forgot
		email := strings.TrimSpace(f.value("email"))
		if errs := validate.ForgotPassword(email); !errs.OK() {
			f.fail(errs)
			return a, nil
		}
		if rec == nil {
			f.failWith("Password reset is not available.")
			return a, nil
		}
		f.pending = true
		return a, func() tea.Msg {
			ticket, err := rec.ForgotPassword(ctx, email)
			return forgotDoneMsg{ticket: ticket, err: err}
		}

	case routeReset:
		f := &a.reset
		token, pw := strings.TrimSpace(f.value("token")), f.value("password")
		if errs := validate.ResetPassword(token, pw, f.value("confirm")); !errs.OK() {
			f.fail(errs)
			return a, nil
		}
		if rec == nil {
			f.failWith("Password reset is not available.")
			return a, nil
		}
		f.pending = true
		return a, func() tea.Msg {
			return resetDoneMsg{err: rec.ResetPassword(ctx, token, pw)}
		}

	case routeProfile:
		f := &a.profile
		name := strings.TrimSpace(f.value("name"))
		avatar := strings.TrimSpace(f.value("avatar_url"))
		if errs := validate.Profile(name, avatar); !errs.OK() {
			f.fail(errs)
			return a, nil
		}
		f.pending = true
		update := domain.ProfileUpdate{Name: &name, AvatarURL: &avatar}
		return a, func() tea.Msg {
			return profileSavedMsg{res: sess.SaveProfile(ctx, update)}
		}

	case routeChangePassword:
		f := &a.password
		current, next := f.value("current"), f.value("new")
		if errs := validate.ChangePassword(current, next, f.value("confirm")); !errs.OK() {
			f.fail(errs)
			return a, nil
		}
		f.pending = true
		return a, func() tea.Msg {
			return passwordChangedMsg{res: sess.ChangePassword(ctx, current, next)}
		}
	}
	return a, nil
}

func (a App) View() string {
	s := a.styles
	header := center(s.logo(a.frame), a.width) + "\n" + center(a.statusLine(), a.width)

	var body, help string
	if !a.ready {
		body = a.startupView()
		help = s.helpBar("q", "quit")
	} else {
		body, help = a.routeView()
	}

	notice := ""
	if a.notice != "" {
		notice = " " + s.accent.Render(a.notice)
	}

	// Chrome budget: header(2) + blank(1) + notice(1) + help(1)
	chrome := 5
	body = strings.TrimRight(truncateToHeight(body, a.height-chrome), "\n")
	return fmt.Sprintf("%s\n\n%s\n%s\n%s", header, body, notice, help)
}

func (a App) statusLine() string {
	s := a.styles
	who := "guest"
	if a.snap.User != nil {
		who = "signed in as " + a.snap.User.DisplayName()
	}
	parts := []string{who, string(s.theme)}
	if a.version != "" {
		parts = append(parts, a.version)
	}
	return s.meta.Render(strings.Join(parts, " · "))
}
