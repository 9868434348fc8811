package main

import (
	"bytes"

	"github.com/spf13/cobra"

	"github.com/secureqr/secureqr/internal/hybrid"
)

func newEncryptCmd() *cobra.Command {
	var pub, in, out string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt to a P-256 public key and print the envelope JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pubText, err := readKey(pub)
			if err != nil {
				return err
			}
			plaintext, err := readInput(cmd, "", in)
			if err != nil {
				return err
			}
			wire, err := hybrid.EncryptForEncoded(plaintext, pubText)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, append(wire, '\n'))
		},
	}
	cmd.Flags().StringVar(&pub, "pub", "", "recipient base64 public key, or @file")
	cmd.Flags().StringVar(&in, "in", "-", "plaintext file")
	cmd.Flags().StringVar(&out, "out", "-", "envelope output file")
	_ = cmd.MarkFlagRequired("pub")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var key, in, out string
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a hybrid envelope with a P-256 private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := readKey(key)
			if err != nil {
				return err
			}
			wire, err := readInput(cmd, "", in)
			if err != nil {
				return err
			}
			plaintext, err := hybrid.DecryptEncoded(bytes.TrimSpace(wire), priv)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, plaintext)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "base64 PKCS#8 private key, or @file")
	cmd.Flags().StringVar(&in, "in", "-", "envelope file")
	cmd.Flags().StringVar(&out, "out", "-", "plaintext output file")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
