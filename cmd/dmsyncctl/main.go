package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/client"
	"github.com/matheus3301/dmsync/internal/profile"
)

var (
	profileFlag string
	jsonFlag    bool
	timeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "dmsyncctl",
		Short:         "Control the dmsync daemon of a profile",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(),
		inboxCmd(),
		openCmd(),
		messagesCmd(),
		sendCmd(),
		editCmd(),
		deleteCmd(),
		pendingCmd(),
		archiveCmd(),
		searchCmd(),
		watchCmd(),
		sessionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveProfile() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// connect dials the profile's daemon and returns a context bounded by --timeout.
func connect(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc, error) {
	name, err := resolveProfile()
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := newClient(name)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return c, ctx, func() { cancel(); _ = c.Close() }, nil
}

func newClient(name string) (*client.Client, error) {
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
