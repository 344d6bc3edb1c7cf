package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stax/libforge-go/internal/signature"
)

// newVerifyCmd checks a file against its detached signature, the same
// check resolution applies to every release download. Useful for release
// tooling and for debugging rejected artifacts.
func newVerifyCmd(stdout io.Writer) *cobra.Command {
	var (
		keyHex  string
		sigPath string
	)

	cmd := &cobra.Command{
		Use:           "verify <file>",
		Short:         "Verify a file against a detached Ed25519 signature",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(stdout, args[0], sigPath, keyHex)
		},
	}

	cmd.Flags().StringVar(&keyHex, "public-key", "", "hex-encoded Ed25519 public key (required)")
	cmd.Flags().StringVar(&sigPath, "signature", "", "signature file (default: <file>.sig)")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func runVerify(stdout io.Writer, filePath, sigPath, keyHex string) error {
	publicKey, err := signature.ParsePublicKeyHex(keyHex)
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if sigPath == "" {
		sigPath = filePath + ".sig"
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}

	if err := signature.Verify(publicKey, payload, sig); err != nil {
		return &exitError{code: 1, err: err}
	}
	fmt.Fprintf(stdout, "OK: %s\n", filePath)
	return nil
}
