// Command promptbuddy runs the prompt-quality edge proxy.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd runs the server when no subcommand is given
var rootCmd = &cobra.Command{
	Use:   "promptbuddy",
	Short: "Prompt-quality edge proxy",
	Long: `promptbuddy holds the model provider key, hands out passphrase-gated bearer
tokens, meters every subject per day and turns model replies into fixed JSON shapes.

Configuration is read from the environment (LISTEN_ADDR, TOKEN_SECRET,
ALLOWED_PASSPHRASES, DEEPSEEK_API_KEY, ...) and optionally from a config file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./promptbuddy.yaml if present)")

	tokenCmd.AddCommand(tokenVerifyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(subjectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
