package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/moodmate/moodmate/internal/session"
	"github.com/moodmate/moodmate/internal/tui"
	"github.com/moodmate/moodmate/internal/validate"
	"github.com/moodmate/moodmate/pkg/client"
	"github.com/moodmate/moodmate/pkg/domain"
)

var (
	errNotSignedIn    = errors.New(`not signed in (run "moodmate login")`)
	errSessionCleared = errors.New(`stored session could not be verified and was cleared (run "moodmate login")`)
)

// cli runs one subcommand against the session manager.
type cli struct {
	sess     *session.Manager
	recovery tui.Recovery
	prompt   *prompter
	out      io.Writer
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return c.login(ctx, args)
	case "register":
		return c.register(ctx, args)
	case "logout":
		return c.logout(ctx)
	case "whoami":
		return c.whoami(ctx)
	case "passwd":
		return c.passwd(ctx)
	case "profile":
		return c.profile(ctx, args)
	case "forgot":
		return c.forgot(ctx, args)
	case "reset":
		return c.reset(ctx, args)
	}
	return fmt.Errorf("unknown command %q (run \"moodmate help\")", cmd)
}

func (c *cli) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...) //nolint:errcheck
}

// invalid turns field errors into one error, in form order.
func invalid(errs validate.Errors, order ...string) error {
	msgs := make([]string, 0, len(errs))
	for _, k := range order {
		if m, ok := errs[k]; ok {
			msgs = append(msgs, m)
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func (c *cli) login(ctx context.Context, args []string) error {
	email, err := c.prompt.argOrLine(args, 0, "Email")
	if err != nil {
		return err
	}
	password, err := c.prompt.secret("Password")
	if err != nil {
		return err
	}
	if errs := validate.Login(email, password); !errs.OK() {
		return invalid(errs, "email", "password")
	}

	res := c.sess.Login(ctx, email, password)
	if !res.Success {
		return errors.New(res.Error)
	}
	c.printf("Welcome back, %s.\n", res.User.DisplayName())
	return nil
}

func (c *cli) register(ctx context.Context, args []string) error {
	name, err := c.prompt.line("Name")
	if err != nil {
		return err
	}
	email, err := c.prompt.argOrLine(args, 0, "Email")
	if err != nil {
		return err
	}
	password, err := c.prompt.secret("Password")
	if err != nil {
		return err
	}
	if password != "" {
		st := validate.PasswordStrength(password)
		c.printf("Strength: %s\n", st.Label)
	}
	confirm, err := c.prompt.secret("Confirm password")
	if err != nil {
		return err
	}
	if errs := validate.Register(name, email, password, confirm); !errs.OK() {
		return invalid(errs, "name", "email", "password", "confirm")
	}

	res := c.sess.Register(ctx, name, email, password)
	if !res.Success {
		return errors.New(res.Error)
	}
	c.printf("Account created. Signed in as %s.\n", res.User.DisplayName())
	return nil
}

func (c *cli) logout(ctx context.Context) error {
	c.sess.Logout(ctx)
	c.printf("Signed out.\n")
	return nil
}

// restore verifies the stored session and returns its user.
func (c *cli) restore(ctx context.Context) (*domain.User, error) {
	switch c.sess.Initialize(ctx) {
	case session.OutcomeAuthenticated:
		return c.sess.User(), nil
	case session.OutcomeCanceled:
		return nil, ctx.Err()
	case session.OutcomeCleared:
		return nil, errSessionCleared
	}
	return nil, errNotSignedIn
}

func (c *cli) whoami(ctx context.Context) error {
	u, err := c.restore(ctx)
	if errors.Is(err, errNotSignedIn) {
		c.printf("Not signed in.\n")
		return nil
	}
	if err != nil {
		return err
	}
	printUser(c.out, u)
	return nil
}

func (c *cli) passwd(ctx context.Context) error {
	if _, err := c.restore(ctx); err != nil {
		return err
	}
	current, err := c.prompt.secret("Current password")
	if err != nil {
		return err
	}
	next, err := c.prompt.secret("New password")
	if err != nil {
		return err
	}
	confirm, err := c.prompt.secret("Confirm new password")
	if err != nil {
		return err
	}
	if errs := validate.ChangePassword(current, next, confirm); !errs.OK() {
		return invalid(errs, "current", "new", "confirm")
	}

	res := c.sess.ChangePassword(ctx, current, next)
	if !res.Success {
		return errors.New(res.Error)
	}
	c.printf("Password changed.\n")
	return nil
}

func (c *cli) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(c.out)
	name := fs.String("name", "", "new display name")
	avatar := fs.String("avatar", "", "new avatar URL (empty string clears it)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := c.restore(ctx)
	if err != nil {
		return err
	}

	var update domain.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			update.Name = name
		case "avatar":
			update.AvatarURL = avatar
		}
	})
	if update.Name == nil && update.AvatarURL == nil {
		printUser(c.out, u)
		return nil
	}

	checkName, checkAvatar := u.Name, ""
	if update.Name != nil {
		checkName = *update.Name
	}
	if update.AvatarURL != nil {
		checkAvatar = *update.AvatarURL
	}
	if errs := validate.Profile(checkName, checkAvatar); !errs.OK() {
		return invalid(errs, "name", "avatar_url")
	}

	res := c.sess.SaveProfile(ctx, update)
	if !res.Success {
		return errors.New(res.Error)
	}
	c.printf("Profile updated.\n")
	printUser(c.out, res.User)
	return nil
}

func (c *cli) forgot(ctx context.Context, args []string) error {
	email, err := c.prompt.argOrLine(args, 0, "Email")
	if err != nil {
		return err
	}
	if errs := validate.ForgotPassword(email); !errs.OK() {
		return invalid(errs, "email")
	}

	ticket, err := c.recovery.ForgotPassword(ctx, strings.TrimSpace(email))
	if err != nil {
		return recoveryError(err, "Failed to send reset email")
	}
	msg := "If that email is registered, a reset link is on its way."
	if ticket != nil && ticket.Message != "" {
		msg = ticket.Message
	}
	c.printf("%s\n", msg)
	if ticket != nil && ticket.ResetToken != "" {
		c.printf("Development reset token: %s\nRun: moodmate reset %s\n", ticket.ResetToken, ticket.ResetToken)
	}
	return nil
}

func (c *cli) reset(ctx context.Context, args []string) error {
	token, err := c.prompt.argOrLine(args, 0, "Reset token")
	if err != nil {
		return err
	}
	password, err := c.prompt.secret("New password")
	if err != nil {
		return err
	}
	confirm, err := c.prompt.secret("Confirm new password")
	if err != nil {
		return err
	}
	if errs := validate.ResetPassword(token, password, confirm); !errs.OK() {
		return invalid(errs, "token", "password", "confirm")
	}

	if err := c.recovery.ResetPassword(ctx, token, password); err != nil {
		return recoveryError(err, "Failed to reset password")
	}
	c.printf("Password reset. Sign in with \"moodmate login\".\n")
	return nil
}

// recoveryError prefers the backend's message over the transport error.
func recoveryError(err error, fallback string) error {
	if msg, ok := client.ServerMessage(err); ok {
		return errors.New(msg)
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return errors.New(fallback)
	}
	return fmt.Errorf("%s: %w", strings.ToLower(fallback), err)
}
