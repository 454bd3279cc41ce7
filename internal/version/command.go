package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand attaches a `version` subcommand printing the
// packager's own build info (not the release version being packaged).
func AttachCobraVersionCommand(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the packager's version information.",
		Long: "Print the packager's own version, commit hash and build timestamp, " +
			"injected via ldflags at build time. This is unrelated to release.version " +
			"in the packaging configuration.",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full())
		},
	})
}
