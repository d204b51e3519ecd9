package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/client"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/protocol"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		timeout  time.Duration
		attempts uint
		raw      bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:           "dictionary-client <host:port> <word>...",
		Short:         "Look up words on a dictionary server",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			c, err := client.New(args[0],
				client.WithTimeout(timeout),
				client.WithAttempts(attempts),
				client.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, word := range args[1:] {
				resp, err := c.Lookup(cmd.Context(), word)
				if err != nil {
					return fmt.Errorf("lookup %q: %w", word, err)
				}
				if err := printResponse(out, resp, raw); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&timeout, "timeout", client.DefaultTimeout, "Time to wait for each reply")
	flags.UintVar(&attempts, "attempts", client.DefaultAttempts, "Attempts per word before giving up")
	flags.BoolVar(&raw, "json", false, "Print raw JSON replies")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log retries")

	return cmd
}

func printResponse(w io.Writer, resp *protocol.Response, raw bool) error {
	if raw {
		return json.NewEncoder(w).Encode(resp)
	}

	var err error
	switch resp.Status {
	case protocol.StatusFound:
		_, err = fmt.Fprintf(w, "%s: %s\n", resp.Word, resp.Definition)
	case protocol.StatusNotFound:
		_, err = fmt.Fprintf(w, "%s: not found\n", resp.Word)
	default:
		_, err = fmt.Fprintf(w, "error: %s\n", resp.Message)
	}
	return err
}
