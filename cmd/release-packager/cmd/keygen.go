package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/signer"
)

// keygenCmd generates an Ed25519 signing keypair for the updater manifest.
var keygenCmd = &cobra.Command{
	Use:   "keygen [key-file]",
	Short: "Generate an Ed25519 manifest signing keypair",
	Long: "Generate an Ed25519 keypair for manifest signing. The private key is written\n" +
		"to the given path and the public key next to it with a .pub suffix.",
	Args: cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		ctx := command.Context()

		public, private, err := signer.GenerateKeypair()
		if err != nil {
			return err
		}
		defer signer.Wipe(private)

		if err := signer.SaveKeypair(args[0], public, private); err != nil {
			return err
		}

		logger.InfoKV(ctx, "Generated signing keypair",
			"key_id", signer.KeyID(public),
			"private_key", args[0],
			"public_key", args[0]+".pub")

		return nil
	},
}
