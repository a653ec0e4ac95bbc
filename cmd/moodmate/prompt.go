package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter reads answers from the user. Secrets are read without echo
// when stdin is a terminal; piped input is read line by line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// readSecret reads one hidden line. Nil means read a plain line.
	readSecret func() ([]byte, error)
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readSecret = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// line prints label and reads one trimmed line. A final line without a
// newline is accepted.
func (p *prompter) line(label string) (string, error) {
	if _, err := fmt.Fprintf(p.out, "%s: ", label); err != nil {
		return "", err
	}
	s, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(s) > 0 {
			return strings.TrimSpace(s), nil
		}
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(s), nil
}

// secret prints label and reads a value that is not echoed.
func (p *prompter) secret(label string) (string, error) {
	if _, err := fmt.Fprintf(p.out, "%s: ", label); err != nil {
		return "", err
	}
	if p.readSecret != nil {
		b, err := p.readSecret()
		fmt.Fprintln(p.out) //nolint:errcheck // the typed newline was not echoed
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return string(b), nil
	}
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(s) > 0) {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// argOrLine returns args[i] when present, otherwise prompts for it.
func (p *prompter) argOrLine(args []string, i int, label string) (string, error) {
	if i < len(args) {
		return strings.TrimSpace(args[i]), nil
	}
	return p.line(label)
}
