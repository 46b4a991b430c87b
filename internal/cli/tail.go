package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ideaforge/api/internal/config"
	"ideaforge/api/internal/feed"
	"ideaforge/api/internal/store"
)

// TailCmd returns the tail command
func TailCmd() *cobra.Command {
	var (
		history int
		follow  bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the live activity feed from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.RedisURL) == "" {
				return errors.New("REDIS_URL is required for tail")
			}
			redisFeed, err := feed.NewRedis(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			defer redisFeed.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			recent, err := redisFeed.Recent(ctx, history)
			if err != nil {
				return err
			}
			for i := len(recent) - 1; i >= 0; i-- {
				printEvent(out, recent[i])
			}
			if !follow {
				return nil
			}

			events, err := redisFeed.Subscribe(ctx)
			if err != nil {
				return err
			}
			for event := range events {
				printEvent(out, event)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&history, "lines", "n", 20, "Number of recent events to print first")
	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "Keep streaming new events")
	return cmd
}

func printEvent(out io.Writer, event store.ActivityEvent) {
	fmt.Fprintf(out, "%s %s", event.CreatedAt.Format("15:04:05"), eventColor(event.Type).Sprint(event.Type))
	for _, ref := range []struct{ label, value string }{
		{"agent", event.AgentID},
		{"idea", event.IdeaID},
		{"project", event.ProjectID},
	} {
		if ref.value != "" {
			fmt.Fprintf(out, " %s=%s", ref.label, ref.value)
		}
	}
	fmt.Fprintln(out)
}

func eventColor(eventType string) *color.Color {
	switch {
	case strings.HasSuffix(eventType, "_failed"), eventType == "idea:rejected":
		return color.New(color.FgRed)
	case eventType == "idea:approved", eventType == "project:created", eventType == "idea:shipped":
		return color.New(color.FgGreen)
	case strings.HasPrefix(eventType, "project:"):
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}
