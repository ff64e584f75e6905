package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/spf13/cobra"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Kind string
}

// NewKeygenCommand creates the keygen command: generate a keypair for
// signature locks. The public half goes into a lock's data field; the
// private half signs witness digests.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a keypair for signature locks",
		Long: `Keygen prints a fresh keypair in base64. The public key is what an
articles manifest or a produced cell embeds as lock data.

Example:
  stash keygen --kind dilithium3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "ed25519", "key kind (ed25519|dilithium3)")
	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	var pub, priv []byte
	switch opts.Kind {
	case "ed25519":
		p, s, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return WrapExitError(ExitCommandError, "generate key", err)
		}
		pub, priv = p, s
	case "dilithium3":
		p, s, err := mode3.GenerateKey(rand.Reader)
		if err != nil {
			return WrapExitError(ExitCommandError, "generate key", err)
		}
		pub, err = p.MarshalBinary()
		if err != nil {
			return WrapExitError(ExitCommandError, "encode public key", err)
		}
		priv, err = s.MarshalBinary()
		if err != nil {
			return WrapExitError(ExitCommandError, "encode private key", err)
		}
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown key kind %q", opts.Kind))
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	privB64 := base64.StdEncoding.EncodeToString(priv)

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"kind":        opts.Kind,
			"public_key":  pubB64,
			"private_key": privB64,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "kind        %s\n", opts.Kind)
	fmt.Fprintf(cmd.OutOrStdout(), "public_key  %s\n", pubB64)
	fmt.Fprintf(cmd.OutOrStdout(), "private_key %s\n", privB64)
	return nil
}
