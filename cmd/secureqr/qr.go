package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/secureqr/secureqr/internal/app"
	"github.com/secureqr/secureqr/internal/envelope"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/qr"
)

func newQRCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Render and read signed QR codes",
	}
	cmd.AddCommand(newQREncodeCmd(root), newQRVerifyCmd())
	return cmd
}

func newQREncodeCmd(root *rootOptions) *cobra.Command {
	var (
		text, envFile, alias, data, out, level string
		size                                   int
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Render a QR PNG from text, an envelope file, or a fresh signature",
		Long: "With --alias and --data the payload is signed by the leaf registered under\n" +
			"alias, using the store from the config file. With --envelope an existing\n" +
			"envelope is rendered as is. With --text the text is rendered unsigned.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, err := qr.NewCodec(size, level)
			if err != nil {
				return err
			}

			var content string
			switch {
			case alias != "":
				if data == "" {
					return errors.New("--data is required with --alias")
				}
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				log := logger.NewWithWriter("warn", "console", cmd.ErrOrStderr())
				a, err := app.Open(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer a.Close()

				signed, err := a.SignedQR.Sign(cmd.Context(), alias, []byte(data))
				if err != nil {
					return err
				}
				content = string(signed.Wire)
			case envFile != "":
				wire, err := os.ReadFile(envFile)
				if err != nil {
					return err
				}
				env, err := envelope.Decode(wire)
				if err != nil {
					return err
				}
				canonical, err := envelope.Encode(env)
				if err != nil {
					return err
				}
				content = string(canonical)
			case text != "":
				content = text
			default:
				return errors.New("one of --text, --envelope or --alias is required")
			}

			png, err := codec.EncodePNG(content)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, png)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "raw text to render")
	cmd.Flags().StringVar(&envFile, "envelope", "", "signed envelope JSON file to render")
	cmd.Flags().StringVar(&alias, "alias", "", "leaf alias to sign with")
	cmd.Flags().StringVar(&data, "data", "", "payload to sign with --alias")
	cmd.Flags().StringVar(&out, "out", "qr.png", "output PNG file, - for stdout")
	cmd.Flags().IntVar(&size, "size", qr.DefaultSize, "image edge in pixels")
	cmd.Flags().StringVar(&level, "level", "high", "error recovery level (low, medium, high, highest)")
	cmd.MarkFlagsMutuallyExclusive("text", "envelope", "alias")
	return cmd
}

type qrVerifyOutput struct {
	Decoded      string `json:"decoded"`
	Payload      string `json:"payload,omitempty"`
	IssuerID     string `json:"issuerId,omitempty"`
	PayloadValid bool   `json:"payloadValid"`
	IssuerValid  bool   `json:"issuerValid"`
	TrustedRoot  bool   `json:"trustedRoot"`
}

func newQRVerifyCmd() *cobra.Command {
	var image, rootKey string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Read a QR image and verify its envelope against a root key",
		Long: "Verification is fully offline: the envelope carries the leaf key and the\n" +
			"issuer's signature over it, so only the root public key is needed. Without\n" +
			"--root-key the decoded text is printed unverified.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(image)
			if err != nil {
				return err
			}
			defer f.Close()

			text, err := qr.DecodeReader(f)
			if err != nil {
				return err
			}
			res := qrVerifyOutput{Decoded: text}

			if rootKey != "" {
				root, err := readKey(rootKey)
				if err != nil {
					return err
				}
				env, result, err := envelope.VerifyEncoded([]byte(text), root)
				if err != nil {
					return err
				}
				res.Payload = string(env.Payload)
				res.IssuerID = env.IssuerID
				res.PayloadValid = result.PayloadValid
				res.IssuerValid = result.IssuerValid
				res.TrustedRoot = result.Trusted()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(res); err != nil {
				return err
			}
			if rootKey != "" && !res.TrustedRoot {
				return errors.New("envelope does not chain to the root key")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "QR image file (PNG, JPEG or GIF)")
	cmd.Flags().StringVar(&rootKey, "root-key", "", "trusted root base64 public key, or @file")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
