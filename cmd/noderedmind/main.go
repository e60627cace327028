// NodeRedMind - bridges Node-RED flows onto a voice assistant's message bus
// over a hivemind relay.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal"
	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal/client"
	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal/serve"
	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal/version"
)

func NewNoderedmindCommand() *cobra.Command {
	short := fmt.Sprintf("%s noderedmind - Node-RED hivemind bridge v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "noderedmind",
		Short:   short,
		Example: "noderedmind serve",
	}

	cmd.PersistentFlags().StringVarP(&internal.ConfigPath, "config", "c", "",
		"Config file path (default: ~/.noderedmind/config.json)")

	cmd.AddCommand(
		serve.NewServeCommand(),
		client.NewClientCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewNoderedmindCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
