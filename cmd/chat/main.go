package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/lhj1982/hotel-chatbot/internal/domain"
	"github.com/lhj1982/hotel-chatbot/internal/integrations/coreapi"
	"github.com/lhj1982/hotel-chatbot/internal/repository"
	"github.com/lhj1982/hotel-chatbot/internal/usecase"
)

type options struct {
	widgetKey string
	locale    string
	apiURL    string
	storePath string
	pageURL   string
	timeout   time.Duration
	verbose   bool
}

// errShown marks failures already explained to the user.
var errShown = errors.New("reported")

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errShown) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	defaultStore, _ := homedir.Expand("~/.hotel-chat/chat.db")

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a hotel's concierge from the terminal",
		Long: `Opens a standalone chat session for a widget key against the core API.

The conversation is kept in a local bbolt file for 24 hours, so closing and
reopening the chat resumes where you left off. Type /new to start over and
/quit to exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.widgetKey, "key", envOr("HOTEL_CHAT_WIDGET_KEY", ""), "widget key of the hotel")
	f.StringVar(&opts.locale, "locale", envOr("HOTEL_CHAT_LOCALE", "en"), "conversation language")
	f.StringVar(&opts.apiURL, "api", envOr("HOTEL_CHAT_API_URL", "http://localhost:8000"), "core API base URL")
	f.StringVar(&opts.storePath, "store", envOr("HOTEL_CHAT_STORE", defaultStore), "path of the local session file")
	f.StringVar(&opts.pageURL, "page-url", "", "page the chat was opened from")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per message timeout")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")
	return cmd
}

func run(ctx context.Context, in io.Reader, out, errOut io.Writer, opts options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	opts.widgetKey = strings.TrimSpace(opts.widgetKey)
	if opts.widgetKey == "" {
		fmt.Fprintln(errOut, "Missing widget key. Pass --key or set HOTEL_CHAT_WIDGET_KEY.")
		return errShown
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	client, err := coreapi.NewClient(opts.apiURL, coreapi.WithHTTPClient(&http.Client{Timeout: opts.timeout}))
	if err != nil {
		fmt.Fprintf(errOut, "Failed to load widget: %v\n", err)
		return fmt.Errorf("%w: %v", errShown, err)
	}

	cfg, err := client.GetWidgetConfig(ctx, opts.widgetKey)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to load widget: %s\n", failureText(err))
		return fmt.Errorf("%w: %w", errShown, err)
	}

	storePath, err := homedir.Expand(opts.storePath)
	if err != nil {
		return fmt.Errorf("expand store path: %w", err)
	}
	var store usecase.SnapshotRepository
	bolt, err := repository.OpenBoltStore(storePath)
	if err != nil {
		// The chat still works, it just will not survive a restart.
		logger.Warn("session file unavailable, history will not be kept", "path", storePath, "err", err)
	} else {
		defer func() { _ = bolt.Close() }()
		store = repository.NewSnapshotStore(bolt, repository.WithLogger(logger))
	}

	r := newRenderer(out)
	ctrl, err := usecase.NewController(ctx, client, store, usecase.ControllerOptions{
		WidgetKey:   opts.widgetKey,
		Locale:      opts.locale,
		Channel:     domain.ChannelWebURL,
		PageURL:     opts.pageURL,
		Greeting:    cfg.Greeting(),
		SendTimeout: opts.timeout,
		OnChange:    r.OnChange,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	r.OnChange(ctrl.State())

	return repl(ctx, in, out, ctrl)
}

func repl(ctx context.Context, in io.Reader, out io.Writer, ctrl *usecase.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return nil
			case "/new":
				ctrl.Restart(ctx)
			default:
				ctrl.Send(ctx, line)
			}
		}
	}
}

func failureText(err error) string {
	var statusErr *coreapi.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Message()
	}
	return err.Error()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
