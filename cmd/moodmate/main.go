package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/moodmate/moodmate/internal/config"
	"github.com/moodmate/moodmate/internal/logging"
	"github.com/moodmate/moodmate/internal/session"
	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/internal/tui"
	"github.com/moodmate/moodmate/pkg/client"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// splitGlobalFlags removes the flags accepted before any subcommand.
func splitGlobalFlags(args []string) (rest []string, ephemeral bool) {
	for i, a := range args {
		switch a {
		case "--ephemeral":
			ephemeral = true
		default:
			return append(rest, args[i:]...), ephemeral
		}
	}
	return rest, ephemeral
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	args, ephemeral := splitGlobalFlags(args)
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "--version", "version", "-v":
		fmt.Fprintln(stdout, "moodmate "+version) //nolint:errcheck
		return nil
	case "help", "--help", "-h":
		printHelp(stdout)
		return nil
	case "about":
		printAbout(stdout)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogPath())
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	store, err := openStore(cfg, ephemeral)
	if err != nil {
		return err
	}
	api := client.New(cfg.APIURL,
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(log.Named("client")),
		client.WithUserAgent("moodmate/"+version),
	)
	log.Debug("starting",
		zap.String("command", cmd),
		zap.String("api_url", cfg.APIURL),
		zap.Bool("ephemeral", ephemeral))

	if cmd == "" || strings.HasPrefix(cmd, "/") {
		return runTUI(api, store, log, cmd)
	}

	c := &cli{
		sess:     session.New(api, store, session.WithLogger(log.Named("session"))),
		recovery: api,
		prompt:   newPrompter(stdin, stdout),
		out:      stdout,
	}
	return c.dispatch(ctx, cmd, args)
}

func openStore(cfg config.Config, ephemeral bool) (storage.Store, error) {
	if ephemeral {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewFileStore(cfg.StorageDir())
}

// runTUI launches the interactive app, optionally opening route first.
func runTUI(api *client.Client, store storage.Store, log *zap.Logger, route string) error {
	router := tui.NewRouter()
	sess := session.New(api, store,
		session.WithLogger(log.Named("session")),
		session.WithNavigator(router.Navigate),
	)
	app := tui.NewApp(tui.Config{
		Session:  sess,
		Recovery: api,
		Store:    store,
		Router:   router,
		Log:      log.Named("tui"),
		Version:  version,
		Route:    route,
	})

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}
