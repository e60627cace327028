// Package bridge wires the relay, the skill and the internal bus into one
// running service.
package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/noderedmind/pkg/broadcast"
	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/certs"
	"github.com/tinyland-inc/noderedmind/pkg/clientdb"
	"github.com/tinyland-inc/noderedmind/pkg/config"
	"github.com/tinyland-inc/noderedmind/pkg/discovery"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
	"github.com/tinyland-inc/noderedmind/pkg/relay"
	"github.com/tinyland-inc/noderedmind/pkg/skill"
)

type Option func(*options)

type options struct {
	store clientdb.Store
}

// WithStore uses store instead of opening the configured backend. The bridge
// takes ownership and closes it on exit.
func WithStore(store clientdb.Store) Option {
	return func(o *options) { o.store = store }
}

// Bridge owns every long running component of the service.
type Bridge struct {
	config *config.Config

	Bus        *bus.MessageBus
	Store      clientdb.Store
	Registry   *peers.Registry
	Handler    *relay.Handler
	Server     *relay.Server
	Skill      *skill.Skill
	// Advertiser is built by Run once the listen port is known.
	Advertiser *discovery.Advertiser

	// Identity is the provisioned default client. Its secrets are only
	// known when Created is true.
	Identity clientdb.Identity
	Created  bool
}

// New opens the client store, provisions the default client and builds the
// relay components. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Bridge, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = clientdb.Open(ctx, cfg); err != nil {
			return nil, fmt.Errorf("opening client db: %w", err)
		}
	}

	id, created, err := clientdb.Bootstrap(ctx, store, clientdb.IdentityFromConfig(cfg))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("provisioning %s: %w", cfg.Username, err)
	}

	serverCfg := relay.ServerConfig{
		Addr:           cfg.Addr(),
		MetricsEnabled: cfg.MetricsEnabled,
	}
	if cfg.SSL {
		certFile, keyFile, err := certs.Ensure(cfg.CertDirPath(), cfg.CertName)
		if err != nil {
			store.Close()
			return nil, err
		}
		serverCfg.CertFile, serverCfg.KeyFile = certFile, keyFile
	}

	b := &Bridge{
		config:   cfg,
		Bus:      bus.NewMessageBus(),
		Store:    store,
		Registry: peers.NewRegistry(),
		Identity: id,
		Created:  created,
	}
	b.Handler = relay.NewHandler(b.Bus, broadcast.New(b.Registry), relay.WithEchoToOrigin(cfg.EchoToOrigin))
	b.Server = relay.NewServer(serverCfg, b.Registry, b.Handler, store, b.Bus)
	b.Skill = skill.New(b.Bus, skill.Config{
		Priority: cfg.Priority,
		Timeout:  cfg.WaitTimeout(),
	})
	return b, nil
}

// Run serves until ctx is done or a component fails. When ln is nil the
// configured address is used. The client store is closed on return.
func (b *Bridge) Run(ctx context.Context, ln net.Listener) error {
	defer b.Store.Close()

	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", b.config.Addr()); err != nil {
			return fmt.Errorf("listen %s: %w", b.config.Addr(), err)
		}
	}
	b.Advertiser = discovery.NewAdvertiser(b.advertiserConfig(listenPort(ln, b.config.Port)))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Bus.Run(gctx)
		return nil
	})
	detach := b.Handler.Attach()
	g.Go(func() error {
		return b.Server.Serve(gctx, ln)
	})

	b.Skill.Start(gctx)
	if err := b.Advertiser.Start(gctx); err != nil {
		logger.WarnCF("bridge", "mDNS advertisement failed", map[string]any{"error": err.Error()})
	}

	logger.InfoCF("bridge", "Bridge running", map[string]any{
		"addr":     ln.Addr().String(),
		"username": b.Identity.Name,
		"ssl":      b.config.SSL,
	})

	g.Go(func() error {
		<-gctx.Done()
		b.Skill.Stop()
		detach()
		b.Advertiser.Stop()
		b.Bus.Close()
		return nil
	})

	err := g.Wait()
	logger.InfoC("bridge", "Bridge stopped")
	return err
}

func (b *Bridge) advertiserConfig(port int) discovery.Config {
	return discovery.Config{
		Enabled: b.config.MDNS.Enabled,
		Name:    b.config.MDNS.Name,
		Service: b.config.MDNS.Service,
		Domain:  b.config.MDNS.Domain,
		Port:    port,
		SSL:     b.config.SSL,
		Node:    b.config.Username,
	}
}

// listenPort is the port ln is bound to, or fallback when it has none.
func listenPort(ln net.Listener, fallback int) int {
	if _, port, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			return p
		}
	}
	return fallback
}
