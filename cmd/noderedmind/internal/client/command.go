package client

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal"
	"github.com/tinyland-inc/noderedmind/pkg/clientdb"
)

func NewClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage the identities allowed to connect",
		Example: `  noderedmind client list
  noderedmind client add flows --blacklist-messages "speak,recognizer_loop:*"
  echo "$KEY" | noderedmind client add flows --access-key-stdin`,
	}

	cmd.AddCommand(newAddCommand(), newListCommand())
	return cmd
}

func newAddCommand() *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a client, generating any secret not given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			return withStore(cmd.Context(), func(store clientdb.Store) error {
				return addClient(cmd.Context(), store, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&opts.AccessKey, "access-key", "", "Access key (default: random)")
	cmd.Flags().BoolVar(&opts.AccessKeyStdin, "access-key-stdin", false, "Read the access key from stdin")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Password (default: random)")
	cmd.Flags().StringSliceVar(&opts.Blacklist.Messages, "blacklist-messages", nil,
		"Message types the client may not inject (a trailing * matches by prefix)")
	cmd.Flags().StringSliceVar(&opts.Blacklist.Skills, "blacklist-skills", nil,
		"Skill ids the client may not trigger")
	cmd.Flags().StringSliceVar(&opts.Blacklist.Intents, "blacklist-intents", nil,
		"Intent names the client may not trigger")
	cmd.MarkFlagsMutuallyExclusive("access-key", "access-key-stdin")

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known clients",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(store clientdb.Store) error {
				return listClients(cmd.Context(), store, cmd.OutOrStdout())
			})
		},
	}
}

func withStore(ctx context.Context, fn func(clientdb.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	store, err := clientdb.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
