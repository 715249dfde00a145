package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/intake/credentials"
)

// NewCredentialsCommand creates the 'credentials' command group.
func NewCredentialsCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage provider secrets in the system keyring",
		Long: fmt.Sprintf(`Store, show or remove provider secrets in the system keyring.

Secrets set here are used when the matching environment variable is unset
(ANTHROPIC_API_KEY for %s).

Examples:
  intake credentials set %[1]s
  intake credentials get %[1]s
  intake credentials delete %[1]s`, credentials.AnthropicAPIKey),
	}
	cmd.AddCommand(
		newCredentialsSetCommand(deps),
		newCredentialsGetCommand(deps),
		newCredentialsDeleteCommand(deps),
	)
	return cmd
}

func knownName(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one secret name")
	}
	if !credentials.IsKnown(args[0]) {
		return fmt.Errorf("unknown secret %q (known: %s)", args[0], strings.Join(credentials.Known, ", "))
	}
	return nil
}

func newCredentialsSetCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret, prompting for its value",
		Args:  func(_ *cobra.Command, args []string) error { return knownName(args) },
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := deps.ReadSecret(fmt.Sprintf("Enter %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			if err := deps.Keys.Set(args[0], value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s\n", args[0], deps.Keys.Description())
			return nil
		},
	}
}

func newCredentialsGetCommand(deps *Deps) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored secret (masked)",
		Args:  func(_ *cobra.Command, args []string) error { return knownName(args) },
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := deps.Keys.Get(args[0])
			if errors.Is(err, credentials.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			if !reveal {
				value = credentials.Mask(value)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], value)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the secret in full")
	return cmd
}

func newCredentialsDeleteCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored secret",
		Args:  func(_ *cobra.Command, args []string) error { return knownName(args) },
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.Keys.Delete(args[0]); err != nil && !errors.Is(err, credentials.ErrNotFound) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

// readSecret prompts on stderr and reads without echo when stdin is a
// terminal, falling back to a plain line read for pipes.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
