package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morezero/walletconnect/pkg/wcuri"
)

// uri: print a fresh connection URI for the configured bridge.
func uriCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "uri",
		Short: "Print a fresh connection URI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			url, err := wcuri.New(cfg.BridgeURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url.String())
			return nil
		},
	}
}
