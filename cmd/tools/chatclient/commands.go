package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var sessionID string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a session and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := newClient().Start(cmd.Context(), botName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sid)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question, opening a session unless --session is given",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid := sessionID
		if sid == "" {
			var err error
			if sid, err = c.Start(cmd.Context(), botName); err != nil {
				return err
			}
		}
		answer, err := c.Ask(cmd.Context(), sid, strings.Join(args, " "), lang)
		if err != nil {
			return err
		}
		printReply(cmd.OutOrStdout(), answer)
		return nil
	},
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Chat in a read-eval-print loop; :quit leaves",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid, err := c.Start(cmd.Context(), botName)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %s with %s\n", sid, botName)
		return repl(cmd, c, sid, cmd.InOrStdin(), out)
	},
}

func init() {
	askCmd.Flags().StringVar(&sessionID, "session", "", "existing session id")
}

func repl(cmd *cobra.Command, c *client, sid string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case ":quit", ":q":
			return nil
		}
		answer, err := c.Ask(cmd.Context(), sid, question, lang)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		printReply(out, answer)
	}
}

func printReply(out io.Writer, r reply) {
	if r.Ret != 0 {
		fmt.Fprintf(out, "[%d] %s\n", r.Ret, r.Response.Message)
		return
	}
	fmt.Fprintf(out, "%s: %s\n", r.Response.AnsweredBy, r.Response.Text)
}
