package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root qrdrop command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qrdrop",
		Short: "Hand URLs from your phone to your desktop",
		Long: `qrdrop pairs a mobile device with a desktop browser session via a QR
code and relays a single URL between them. The desktop creates a
short-lived session and listens; the phone scans the code and submits.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newInitConfigCmd(),
	)

	return root
}
