// Package browser hands links to the desktop's default browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// command builds the launcher invocation for goos.
func command(goos, target string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return exec.Command("open", target), nil
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", target), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target), nil
	default:
		return nil, fmt.Errorf("browser: unsupported OS: %s", goos)
	}
}

// Open opens an http(s) link in the user's default browser. Other
// schemes are refused so a stored profile value cannot launch local files.
func Open(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("browser: parse %q: %w", link, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("browser: refusing to open %q", link)
	}
	cmd, err := command(runtime.GOOS, u.String())
	if err != nil {
		return err
	}
	return cmd.Start()
}
