// Command secureqr is the offline toolbox for the SecureQR trust chain:
// key generation, signing, hybrid encryption, QR rendering and verification,
// and admin token minting.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/secureqr/secureqr/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "secureqr",
		Short:         "Sign, encrypt and verify SecureQR payloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: search ., ./config, /etc/secureqr)")

	cmd.AddCommand(
		newKeygenCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newEncryptCmd(),
		newDecryptCmd(),
		newQRCmd(opts),
		newAdminTokenCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// readInput returns value when set, otherwise the contents of path, where
// "-" or an empty path means stdin.
func readInput(cmd *cobra.Command, value, path string) ([]byte, error) {
	if value != "" {
		return []byte(value), nil
	}
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// readKey accepts a key literal or "@path" to read it from a file.
func readKey(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		value = string(b)
	}
	return strings.TrimSpace(value), nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
