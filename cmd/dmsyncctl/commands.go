package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/session"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and channel status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Profile:  %s\n", resp.Profile)
			fmt.Printf("User:     %d %s\n", resp.UserID, resp.Username)
			fmt.Printf("Channel:  %s (since %s)\n", resp.Channel, resp.ChannelSince.Format("15:04:05"))
			fmt.Printf("Uptime:   %dms\n", resp.UptimeMs)
			fmt.Printf("Pending:  %d\n", resp.PendingSends)
			if !resp.LastInboxSync.IsZero() {
				fmt.Printf("Synced:   %s\n", resp.LastInboxSync.Format("2006-01-02 15:04:05"))
			}
			if resp.DroppedEvents > 0 {
				fmt.Printf("Dropped:  %d events\n", resp.DroppedEvents)
			}
			return nil
		},
	}
}

func inboxCmd() *cobra.Command {
	var watch, refresh bool
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List contacts with their last message and unread count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return watchInbox(cmd)
			}
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			if refresh {
				if err := c.RefreshInbox(ctx); err != nil {
					return err
				}
			}
			v, err := c.Inbox(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(v)
				return nil
			}
			printInbox(os.Stdout, *v)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing the inbox as it changes")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch a new summary first")
	return cmd
}

func watchInbox(cmd *cobra.Command) error {
	name, err := resolveProfile()
	if err != nil {
		return err
	}
	c, err := newClient(name)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	stream, err := c.WatchInbox(cmd.Context())
	if err != nil {
		return err
	}
	for {
		v, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(v)
			continue
		}
		fmt.Print("\033[H\033[2J")
		printInbox(os.Stdout, *v)
	}
}

func openCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "open <peer>",
		Short: "Open the conversation with a peer and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parseID(args[0], "peer")
			if err != nil {
				return err
			}
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Open(ctx, peer, !noWait)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printConversation(os.Stdout, resp.Conversation, st.UserID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return before the history loaded")
	return cmd
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "Print the open conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			snap, err := c.Conversation(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(snap)
				return nil
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printConversation(os.Stdout, *snap, st.UserID)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "send <peer> [text...]",
		Short: "Send a message, optionally with an attachment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parseID(args[0], "peer")
			if err != nil {
				return err
			}
			req := &api.SendRequest{Peer: peer, Text: strings.Join(args[1:], " ")}
			if file != "" {
				abs, err := filepath.Abs(file)
				if err != nil {
					return err
				}
				req.FilePath = abs
			}

			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Send(ctx, req)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if !resp.Sent {
				fmt.Println("Nothing to send.")
				return nil
			}
			fmt.Printf("Sent message %d.\n", resp.Message.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "attach a file")
	return cmd
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <message-id> <text...>",
		Short: "Edit one of your messages in the open conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message id")
			if err != nil {
				return err
			}
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Edit(ctx, id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printMutation(resp, "edited", id)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one of your messages in the open conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message id")
			if err != nil {
				return err
			}
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Delete(ctx, id)
			if err != nil {
				return err
			}
			return printMutation(resp, "deleted", id)
		},
	}
}

func printMutation(resp *api.MutationResponse, verb string, id int64) error {
	if jsonFlag {
		outputJSON(resp)
		return nil
	}
	if resp.Result == "applied" {
		fmt.Printf("Message %d %s.\n", id, verb)
	} else {
		fmt.Printf("Message %d unchanged.\n", id)
	}
	return nil
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List sends in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Pending(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if len(resp.Sends) == 0 {
				fmt.Println("No pending sends.")
				return nil
			}
			for _, ps := range resp.Sends {
				fmt.Printf("%s  to %-6d %-9s %s\n", ps.LocalID.String()[:8], ps.ReceiverID, ps.Status, progress(ps.Sent, ps.Total))
			}
			return nil
		},
	}
}

func archiveCmd() *cobra.Command {
	var before int64
	var limit int
	cmd := &cobra.Command{
		Use:   "archive <peer>",
		Short: "Print the archived conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parseID(args[0], "peer")
			if err != nil {
				return err
			}
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Archive(ctx, &api.ArchiveRequest{Peer: peer, BeforeID: before, Limit: limit})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			for _, m := range resp.Messages {
				fmt.Println(formatMessage(m, st.UserID))
			}
			if resp.HasMore && len(resp.Messages) > 0 {
				fmt.Printf("(more: --before %d)\n", resp.Messages[0].ID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&before, "before", 0, "only messages older than this id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of messages")
	return cmd
}

func searchCmd() *cobra.Command {
	var peer int64
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text...>",
		Short: "Search archived messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, done, err := connect(cmd)
			if err != nil {
				return err
			}
			defer done()

			resp, err := c.Search(ctx, &api.SearchRequest{Query: strings.Join(args, " "), Peer: peer, Limit: limit})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if len(resp.Results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, hit := range resp.Results {
				fmt.Printf("%-8d with %-6d %s  %s\n", hit.Message.ID, hit.Peer, stamp(hit.Message.Timestamp), hit.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&peer, "peer", 0, "only the conversation with this peer")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum results")
	return cmd
}

func watchCmd() *cobra.Command {
	var namespace string
	var bell bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream engine events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := resolveProfile()
			if err != nil {
				return err
			}
			c, err := newClient(name)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stream, err := c.WatchEvents(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			for {
				env, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if jsonFlag {
					outputJSON(env)
					continue
				}
				if env.Kind == bus.KindNotifyReceived {
					var n intsync.Notification
					if err := json.Unmarshal(env.Payload, &n); err == nil {
						if bell {
							fmt.Print("\a")
						}
						fmt.Printf("%s  new message from %s: %s\n", stamp(n.Message.Timestamp), n.Contact.DisplayName(), n.Message.Preview())
						continue
					}
				}
				fmt.Printf("%s  %-24s %s\n", stampMillis(env.OccurredAtUnixMs), env.Kind, env.Payload)
			}
		},
	}
	cmd.Flags().StringVar(&namespace, "ns", "", "only events whose kind starts with this prefix")
	cmd.Flags().BoolVar(&bell, "bell", true, "ring the terminal bell on received messages")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the stored session of a profile",
	}

	var token, username string
	var userID int64
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the bearer token the daemon signs in with",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			name, err := resolveProfile()
			if err != nil {
				return err
			}
			s := &session.Session{UserID: userID, Username: username, Token: token}
			if userID == 0 {
				s, err = session.FromToken(token)
				if err != nil {
					return err
				}
				if username != "" {
					s.Username = username
				}
			} else if err := s.Validate(); err != nil {
				return err
			}
			if err := profile.EnsureDir(name); err != nil {
				return err
			}
			if err := session.Save(profile.SessionPath(name), s); err != nil {
				return err
			}
			fmt.Printf("Session stored for user %d in profile %q.\n", s.UserID, name)
			return nil
		},
	}
	set.Flags().StringVar(&token, "token", "", "bearer token (JWT)")
	set.Flags().Int64Var(&userID, "user-id", 0, "user id when the token does not carry one")
	set.Flags().StringVar(&username, "username", "", "display name of the signed-in user")
	_ = set.MarkFlagRequired("token")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			name, err := resolveProfile()
			if err != nil {
				return err
			}
			return session.Clear(profile.SessionPath(name))
		},
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}
