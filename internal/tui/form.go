package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/moodmate/moodmate/internal/validate"
)

// formErrorKey holds the form-level error, as opposed to a field error.
const formErrorKey = "form"

type field struct {
	key         string
	label       string
	placeholder string
	secret      bool
	value       string
}

// form is a vertical list of text inputs with one focused at a time.
// Enter on the last field, or ctrl+s anywhere, submits.
type form struct {
	fields  []field
	focus   int
	errs    validate.Errors
	status  string
	pending bool
}

func newForm(fields ...field) form {
	return form{fields: fields, errs: validate.Errors{}}
}

func (f form) value(key string) string {
	for _, fd := range f.fields {
		if fd.key == key {
			return fd.value
		}
	}
	return ""
}

func (f *form) set(key, v string) {
	for i := range f.fields {
		if f.fields[i].key == key {
			f.fields[i].value = v
			return
		}
	}
}

func (f *form) fail(errs validate.Errors) {
	f.errs = errs
	f.status = ""
	// Jump to the first field that failed.
	for i, fd := range f.fields {
		if _, bad := errs[fd.key]; bad {
			f.focus = i
			return
		}
	}
}

func (f *form) failWith(msg string) {
	f.fail(validate.Errors{formErrorKey: msg})
}

func (f *form) clearSecrets() {
	for i := range f.fields {
		if f.fields[i].secret {
			f.fields[i].value = ""
		}
	}
}

// update applies a key to the form and reports whether it asked to submit.
// Keys are ignored while a submission is pending.
func (f form) update(msg tea.KeyMsg) (form, bool) {
	if f.pending || len(f.fields) == 0 {
		return f, false
	}
	// KeyRunes carries pasted text as a single message.
	if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
		if !msg.Alt {
			for _, r := range msg.Runes {
				f.edit(string(r))
			}
		}
		return f, false
	}
	switch msg.String() {
	case "ctrl+s":
		return f, true
	case "tab", "down":
		f.focus = (f.focus + 1) % len(f.fields)
	case "shift+tab", "up":
		f.focus = (f.focus - 1 + len(f.fields)) % len(f.fields)
	case "enter":
		if f.focus == len(f.fields)-1 {
			return f, true
		}
		f.focus++
	case "backspace":
		f.edit("backspace")
	}
	return f, false
}

func (f *form) edit(key string) {
	fd := &f.fields[f.focus]
	fd.value = editRune(fd.value, key)
	delete(f.errs, fd.key)
	delete(f.errs, formErrorKey)
	f.status = ""
}

func (f form) view(s styles, extra map[string]string) string {
	var b strings.Builder
	for i, fd := range f.fields {
		cursor := "  "
		label := s.label.Render(fd.label)
		if i == f.focus {
			cursor = s.accent.Render("> ")
			label = s.focused.Render(fd.label)
		}

		value := fd.value
		if fd.secret {
			value = mask(value)
		}
		var shown string
		switch {
		case value == "" && i != f.focus:
			shown = s.holder.Render(fd.placeholder)
		case i == f.focus && !f.pending:
			shown = s.text.Render(value) + s.accent.Render("█")
		default:
			shown = s.text.Render(value)
		}

		fmt.Fprintf(&b, "%s%s\n    %s\n", cursor, label, shown)
		if msg, ok := f.errs[fd.key]; ok {
			fmt.Fprintf(&b, "    %s\n", s.err.Render(msg))
		}
		if line, ok := extra[fd.key]; ok {
			fmt.Fprintf(&b, "    %s\n", line)
		}
		b.WriteString("\n")
	}

	switch {
	case f.pending:
		b.WriteString("  " + s.dim.Render("working..."))
	case f.errs[formErrorKey] != "":
		b.WriteString("  " + s.err.Render(f.errs[formErrorKey]))
	case f.status != "":
		b.WriteString("  " + s.ok.Render(f.status))
	}
	return b.String()
}
