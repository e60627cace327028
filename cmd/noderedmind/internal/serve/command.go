package serve

import (
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	var debug bool
	var noMDNS bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the Node-RED relay and assistant skill",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serveCmd(debug, noMDNS)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "Do not advertise the relay over mDNS")

	return cmd
}
