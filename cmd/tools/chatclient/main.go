// chatclient talks to a running chatbot server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authKey   string
	lang      string
	botName   string
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Command line client for the chatbot server",
	Long: `chatclient opens sessions on a chatbot server and asks questions,
either one at a time or in an interactive loop.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CHATBOT_SERVER", "http://localhost:8001"), "chatbot server base URL")
	rootCmd.PersistentFlags().StringVar(&authKey, "auth", os.Getenv("CHATBOT_AUTH_KEY"), "value of the Auth query parameter")
	rootCmd.PersistentFlags().StringVar(&lang, "lang", "en-US", "language of the questions")
	rootCmd.PersistentFlags().StringVar(&botName, "bot", "sophia", "bot name to talk to")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(interactiveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
