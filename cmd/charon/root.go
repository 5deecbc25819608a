package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "charon",
	Short: "Charon - multi-provider LLM reverse-proxy gateway",
	Long: `Charon is a reverse-proxy gateway for LLM provider APIs.

It multiplexes client applications onto pooled credentials across OpenAI,
Anthropic, Google AI, AWS Bedrock, GCP Vertex, Azure OpenAI, Mistral and
other providers, providing:
  - Dialect translation between the OpenAI, Anthropic, Google and Mistral APIs
  - Credential pooling with health, quota and rate-limit tracking
  - Partitioned admission queueing with key-aware dispatch
  - Bi-directional streaming transforms with first-event synthesis`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
