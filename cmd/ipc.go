// File: cmd/ipc.go
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lancelot/internal/ipcfeed"
	"github.com/xkilldash9x/lancelot/internal/sapi"
)

// Mailboxes live in mailbox.state_file between invocations, so a send in one
// run can be received in the next. Each ipc command holds an exclusive lock
// on the state for its whole run; follow holds it until it stops.
func newIPCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipc",
		Short: "Exchange messages through per-process mailboxes (requires SystemAccess).",
	}
	cmd.AddCommand(
		newIPCSendCmd(),
		newIPCRecvCmd(),
		newIPCPeekCmd(),
		newIPCSizeCmd(),
		newIPCClearCmd(),
		newIPCFollowCmd(),
	)
	return cmd
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid < 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}

func newIPCSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <pid> <text...>",
		Short: "Append a message to a mailbox.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			req := sapi.NewSystemCallRequest(sapi.CmdSendMessage, 0).
				WithOperation(sapi.SendMessage{PID: pid, Text: strings.Join(args[1:], " ")})
			return withRuntime(cmd.Context(), runtimeOptions{sharedMailboxes: true}, func(rt *agentRuntime) error {
				resp, err := rt.agent.SystemCall(cmd.Context(), req)
				if err != nil {
					return err
				}
				rt.markMailboxesChanged()
				return writeResponse(cmd.OutOrStdout(), resp, outputFormat(cmd))
			})
		},
	}
}

func newIPCRecvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv <pid>",
		Short: "Remove and print the oldest message.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			req := sapi.NewSystemCallRequest(sapi.CmdReceiveMessage, 0).
				WithOperation(sapi.ReceiveMessage{PID: pid})
			return withRuntime(cmd.Context(), runtimeOptions{sharedMailboxes: true}, func(rt *agentRuntime) error {
				resp, err := rt.agent.SystemCall(cmd.Context(), req)
				if err != nil {
					return err
				}
				rt.markMailboxesChanged()
				return writeResponse(cmd.OutOrStdout(), resp, outputFormat(cmd))
			})
		},
	}
}

func newIPCPeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek <pid>",
		Short: "Print the oldest message without removing it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), runtimeOptions{sharedMailboxes: true}, func(rt *agentRuntime) error {
				msg, ok, err := rt.agent.PeekNextMessage(pid)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "No messages for process %d\n", pid)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
}

func newIPCSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <pid>",
		Short: "Print the number of pending messages.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), runtimeOptions{sharedMailboxes: true}, func(rt *agentRuntime) error {
				n, err := rt.agent.QueueSize(pid)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newIPCClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <pid>",
		Short: "Discard every pending message.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), runtimeOptions{sharedMailboxes: true}, func(rt *agentRuntime) error {
				if err := rt.agent.ClearMessageQueue(pid); err != nil {
					return err
				}
				rt.markMailboxesChanged()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared mailbox for process %d\n", pid)
				return nil
			})
		},
	}
}

func newIPCFollowCmd() *cobra.Command {
	var (
		fromStart bool
		duration  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "follow [path]",
		Short: "Tail a file and deliver each line as a message.",
		Long: `follow tails a file and sends each line to a mailbox. Lines take the form
"<pid> <text>", "<pid>: <text>", or {"pid": <pid>, "text": "<text>"}.
Without a path, mailbox.inbox is followed. Delivery is throttled by
ipc.follow_rate and ipc.burst, and stops at the first permission denial.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := cfg.Mailbox().Inbox
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no feed path given and mailbox.inbox is not set")
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			return withRuntime(ctx, runtimeOptions{sharedMailboxes: true}, func(rt *agentRuntime) error {
				ipc := cfg.IPC()
				f := ipcfeed.NewFollower(rt.logger, rt.agent, ipcfeed.Config{
					Path:      path,
					Rate:      ipc.FollowRate,
					Burst:     ipc.Burst,
					FromStart: fromStart,
					Poll:      ipc.Poll,
				})
				stats, err := f.Run(ctx)
				if stats.Delivered > 0 {
					rt.markMailboxesChanged()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d, malformed %d, denied %d\n",
					stats.Delivered, stats.Malformed, stats.Denied)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "deliver lines already in the file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop following after this long (0 runs until interrupted)")
	return cmd
}
