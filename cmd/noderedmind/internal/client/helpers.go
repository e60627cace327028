package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tinyland-inc/noderedmind/pkg/clientdb"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

type addOptions struct {
	Name           string
	AccessKey      string
	AccessKeyStdin bool
	Password       string
	Blacklist      peers.Policy
}

func addClient(ctx context.Context, store clientdb.Store, opts addOptions, in io.Reader, out io.Writer) error {
	if opts.AccessKeyStdin {
		key, err := readSecret(in)
		if err != nil {
			return err
		}
		opts.AccessKey = key
	}

	// Bootstrap only reports the generated secrets for a new client, so an
	// existing name must be rejected up front.
	existing, err := store.GetClientsByName(ctx, opts.Name)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%s: %w", opts.Name, clientdb.ErrClientExists)
	}

	id, _, err := clientdb.Bootstrap(ctx, store, clientdb.Identity{
		Name:      opts.Name,
		Password:  opts.Password,
		AccessKey: opts.AccessKey,
		Blacklist: opts.Blacklist,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Client %s added\n", id.Name)
	fmt.Fprintf(out, "  Access key: %s\n", id.AccessKey)
	fmt.Fprintf(out, "  Password:   %s\n", id.Password)
	return nil
}

func readSecret(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading access key: %w", err)
		}
		return "", errors.New("no input received")
	}

	key := strings.TrimSpace(scanner.Text())
	if key == "" {
		return "", errors.New("access key cannot be empty")
	}
	return key, nil
}

func listClients(ctx context.Context, store clientdb.Store, out io.Writer) error {
	clients, err := store.ListClients(ctx)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		fmt.Fprintln(out, "No clients.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tCREATED\tBLACKLIST")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.ID, c.CreatedAt.Format("2006-01-02"), describePolicy(c.Blacklist))
	}
	return tw.Flush()
}

func describePolicy(p peers.Policy) string {
	if p.IsEmpty() {
		return "-"
	}
	var parts []string
	if len(p.Messages) > 0 {
		parts = append(parts, "messages="+strings.Join(p.Messages, ","))
	}
	if len(p.Skills) > 0 {
		parts = append(parts, "skills="+strings.Join(p.Skills, ","))
	}
	if len(p.Intents) > 0 {
		parts = append(parts, "intents="+strings.Join(p.Intents, ","))
	}
	return strings.Join(parts, " ")
}
