package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rpzk/throttleguard/pkg/cli"
	"github.com/rpzk/throttleguard/pkg/security/auth"
)

// apiKeyPrefix marks keys issued by this tool so they are easy to spot in
// logs and secret scanners.
const apiKeyPrefix = "tg_"

var keysFlags struct {
	subject string
	email   string
	role    string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage the API keys that authenticate subjects.

Subcommands:
  generate - Generate a new API key and print its config entry`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long: `Generate a random API key for a subject and print the entry to add
under security.auth.keys (or to the file named by security.auth.keys_file).

A running server picks up new keys when the config file changes.

Examples:
  throttleguard keys generate --subject dr-silva --role physician
  throttleguard keys generate --subject ops --role admin --email ops@example.com`,
	Args: cobra.NoArgs,
	RunE: generateKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	keysGenerateCmd.Flags().StringVar(&keysFlags.subject, "subject", "", "subject ID the key authenticates (required)")
	keysGenerateCmd.Flags().StringVar(&keysFlags.email, "email", "", "subject email")
	keysGenerateCmd.Flags().StringVar(&keysFlags.role, "role", "", "subject role")
	_ = keysGenerateCmd.MarkFlagRequired("subject")
}

// newAPIKey returns a prefixed 256-bit random key.
func newAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func generateKey(cmd *cobra.Command, args []string) error {
	if keysFlags.subject == "" {
		return cli.NewCommandError("keys generate", fmt.Errorf("--subject is required"))
	}

	key, err := newAPIKey()
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	entry := []auth.APIKeyInfo{{
		Key:       key,
		SubjectID: keysFlags.subject,
		Email:     keysFlags.email,
		Role:      keysFlags.role,
		Enabled:   true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}}
	snippet, err := yaml.Marshal(entry)
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "⚠️  Store the key securely and never commit it to version control")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Add under security.auth.keys:")
	fmt.Fprint(out, string(snippet))
	return nil
}
