package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func withRuntime(run func(ctx context.Context, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := openRuntime(ctx, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()
		return run(ctx, rt, args)
	}
}

func okLabel() string   { return color.New(color.FgGreen).Sprint("OK") }
func failLabel() string { return color.New(color.FgRed).Sprint("FAILED") }

// RetryProvisionCmd returns the retry-provision command
func RetryProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-provision <idea-id>",
		Short: "Provision an approved idea whose repository was never created",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			project, err := rt.service.RetryProvision(ctx, args[0])
			if err != nil {
				fmt.Printf("%s %s: %v\n", failLabel(), args[0], err)
				return err
			}
			fmt.Printf("%s project %s\n", okLabel(), project.ID)
			fmt.Printf("  repo: %s\n", project.RepoURL)
			return nil
		}),
	}
}

// RegisterWebhookCmd returns the register-webhook command
func RegisterWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-webhook <project-id>",
		Short: "Register the reconciler webhook on a project's repository again",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			hookID, err := rt.service.RegisterWebhook(ctx, args[0])
			if err != nil {
				fmt.Printf("%s %s: %v\n", failLabel(), args[0], err)
				return err
			}
			fmt.Printf("%s hook %s -> %s\n", okLabel(), hookID, rt.cfg.WebhookURL())
			return nil
		}),
	}
}

// RejectCmd returns the reject command
func RejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <idea-id>",
		Short: "Close voting on an idea without approving it",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			idea, err := rt.service.RejectIdea(ctx, args[0], reason)
			if err != nil {
				fmt.Printf("%s %s: %v\n", failLabel(), args[0], err)
				return err
			}
			fmt.Printf("%s %s is now %s\n", okLabel(), idea.ID, color.New(color.FgYellow).Sprint(idea.Status))
			return nil
		}),
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the idea:rejected event")
	return cmd
}

// ShipCmd returns the ship command
func ShipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ship <idea-id>",
		Short: "Mark a building idea and its project as shipped",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			idea, err := rt.service.MarkShipped(ctx, args[0])
			if err != nil {
				fmt.Printf("%s %s: %v\n", failLabel(), args[0], err)
				return err
			}
			fmt.Printf("%s %s is now %s\n", okLabel(), idea.ID, color.New(color.FgBlue).Sprint(idea.Status))
			return nil
		}),
	}
}
