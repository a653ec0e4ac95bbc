// Package validate holds the client-side form checks run before any
// request leaves the machine.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// MinPasswordLength is the shortest password the forms accept.
const MinPasswordLength = 8

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// Email reports whether s looks like an email address.
func Email(s string) bool {
	return emailPattern.MatchString(s)
}

// Required reports whether s has non-blank content.
func Required(s string) bool {
	return strings.TrimSpace(s) != ""
}

// URL reports whether s is an absolute http or https URL.
func URL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// PasswordResult is the outcome of Password.
type PasswordResult struct {
	Valid   bool
	Message string
}

// Password checks the registration password policy: minimum length,
// upper and lower case letters, a digit and a special character.
func Password(s string) PasswordResult {
	var issues []string
	if len([]rune(s)) < MinPasswordLength {
		issues = append(issues, fmt.Sprintf("at least %d characters", MinPasswordLength))
	}
	if !strings.ContainsFunc(s, unicode.IsUpper) {
		issues = append(issues, "one uppercase letter")
	}
	if !strings.ContainsFunc(s, unicode.IsLower) {
		issues = append(issues, "one lowercase letter")
	}
	if !strings.ContainsFunc(s, unicode.IsDigit) {
		issues = append(issues, "one number")
	}
	if !specialPattern.MatchString(s) {
		issues = append(issues, "one special character")
	}
	if len(issues) == 0 {
		return PasswordResult{Valid: true}
	}
	return PasswordResult{Message: "Password must contain " + strings.Join(issues, ", ")}
}

// Strength scores a password for the strength meter.
type Strength struct {
	Score    int // 0..MaxStrength
	Label    string
	Feedback []string
}

// MaxStrength is the best possible Strength score.
const MaxStrength = 5

// PasswordStrength rates s one point per satisfied rule.
func PasswordStrength(s string) Strength {
	var st Strength
	check := func(ok bool, hint string) {
		if ok {
			st.Score++
		} else {
			st.Feedback = append(st.Feedback, hint)
		}
	}
	check(len([]rune(s)) >= MinPasswordLength, fmt.Sprintf("At least %d characters", MinPasswordLength))
	check(strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz"), "Include lowercase letter")
	check(strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"), "Include uppercase letter")
	check(strings.ContainsAny(s, "0123456789"), "Include number")
	check(strings.IndexFunc(s, notAlnum) >= 0, "Include special character")

	switch {
	case st.Score <= 1:
		st.Label = "Very Weak"
	case st.Score == 2:
		st.Label = "Weak"
	case st.Score == 3:
		st.Label = "Fair"
	case st.Score == 4:
		st.Label = "Good"
	default:
		st.Label = "Strong"
	}
	return st
}

func notAlnum(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

// Field errors shown next to form inputs.
const (
	ErrEmailRequired    = "Email is required"
	ErrEmailInvalid     = "Please enter a valid email address"
	ErrPasswordRequired = "Password is required"
	ErrNameRequired     = "Name is required"
	ErrPasswordMismatch = "Passwords do not match"
	ErrTokenRequired    = "Reset token is required"
	ErrURLInvalid       = "Please enter a valid http(s) URL"
)

// Errors maps a form field name to its message.
type Errors map[string]string

// OK reports whether no field failed.
func (e Errors) OK() bool {
	return len(e) == 0
}

// Login validates the sign-in form.
func Login(email, password string) Errors {
	errs := Errors{}
	checkEmail(errs, email)
	if !Required(password) {
		errs["password"] = ErrPasswordRequired
	}
	return errs
}

// Register validates the sign-up form.
func Register(name, email, password, confirm string) Errors {
	errs := Errors{}
	if !Required(name) {
		errs["name"] = ErrNameRequired
	}
	checkEmail(errs, email)
	checkNewPassword(errs, "password", password, confirm)
	return errs
}

// ForgotPassword validates the reset-request form.
func ForgotPassword(email string) Errors {
	errs := Errors{}
	checkEmail(errs, email)
	return errs
}

// ResetPassword validates the reset form.
func ResetPassword(token, password, confirm string) Errors {
	errs := Errors{}
	if !Required(token) {
		errs["token"] = ErrTokenRequired
	}
	checkNewPassword(errs, "password", password, confirm)
	return errs
}

// ChangePassword validates the change-password form.
func ChangePassword(current, next, confirm string) Errors {
	errs := Errors{}
	if !Required(current) {
		errs["current"] = ErrPasswordRequired
	}
	checkNewPassword(errs, "new", next, confirm)
	return errs
}

// Profile validates the profile form. The avatar URL is optional.
func Profile(name, avatarURL string) Errors {
	errs := Errors{}
	if !Required(name) {
		errs["name"] = ErrNameRequired
	}
	if Required(avatarURL) && !URL(strings.TrimSpace(avatarURL)) {
		errs["avatar_url"] = ErrURLInvalid
	}
	return errs
}

func checkEmail(errs Errors, email string) {
	switch {
	case !Required(email):
		errs["email"] = ErrEmailRequired
	case !Email(strings.TrimSpace(email)):
		errs["email"] = ErrEmailInvalid
	}
}

func checkNewPassword(errs Errors, field, password, confirm string) {
	if !Required(password) {
		errs[field] = ErrPasswordRequired
	} else if r := Password(password); !r.Valid {
		errs[field] = r.Message
	}
	if password != confirm {
		errs["confirm"] = ErrPasswordMismatch
	}
}
