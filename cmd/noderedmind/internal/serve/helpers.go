package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinyland-inc/noderedmind/cmd/noderedmind/internal"
	"github.com/tinyland-inc/noderedmind/pkg/bridge"
	"github.com/tinyland-inc/noderedmind/pkg/config"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
)

func serveCmd(debug, noMDNS bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	applyFlags(cfg, noMDNS)
	configureLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bridge.New(ctx, cfg)
	if err != nil {
		return err
	}

	if b.Created {
		fmt.Printf("✓ Client %q provisioned\n", b.Identity.Name)
		fmt.Printf("  Access key: %s\n", b.Identity.AccessKey)
		fmt.Printf("  Password:   %s\n", b.Identity.Password)
	}
	scheme := "ws"
	if cfg.SSL {
		scheme = "wss"
	}
	fmt.Printf("✓ Relay starting on %s://%s\n", scheme, cfg.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := b.Run(ctx, nil); err != nil {
		return err
	}
	fmt.Println("✓ Relay stopped")
	return nil
}

func applyFlags(cfg *config.Config, noMDNS bool) {
	if noMDNS {
		cfg.MDNS.Enabled = false
	}
}

func configureLogging(cfg *config.Config) {
	logger.SetOutput(os.Stderr, cfg.LogFormat == "json")
}
