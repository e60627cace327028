package version

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show version information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s noderedmind %s\n", internal.Logo, internal.FormatVersion())
	build, goVer := internal.FormatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	fmt.Fprintf(w, "  Go: %s\n", goVer)
}
