// Package discovery advertises the relay on the local network over mDNS so
// flows can find it without a configured address.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/tinyland-inc/noderedmind/pkg/logger"
)

// Config holds the advertisement settings.
type Config struct {
	Enabled bool
	Name    string // instance name (default: noderedmind-<hostname>)
	Service string // default: _hivemind._tcp
	Domain  string // default: local.
	Port    int
	SSL     bool
	Node    string // relay identity placed in the TXT record
}

type shutdowner interface {
	Shutdown()
}

// register is replaced in tests.
var register = func(name, service, domain string, port int, txt []string) (shutdowner, error) {
	return zeroconf.Register(name, service, domain, port, txt, nil)
}

// Advertiser publishes one mDNS service instance.
type Advertiser struct {
	config  Config
	server  shutdowner
	mu      sync.Mutex
	running bool
}

// NewAdvertiser fills defaults into cfg.
func NewAdvertiser(cfg Config) *Advertiser {
	if cfg.Service == "" {
		cfg.Service = "_hivemind._tcp"
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	if cfg.Name == "" {
		host, _ := os.Hostname()
		host = strings.Split(host, ".")[0]
		if host == "" {
			host = "local"
		}
		cfg.Name = "noderedmind-" + host
	}
	return &Advertiser{config: cfg}
}

// TXT returns the TXT records announced with the service.
func (a *Advertiser) TXT() []string {
	txt := []string{
		fmt.Sprintf("name=%s", a.config.Name),
		fmt.Sprintf("port=%d", a.config.Port),
		fmt.Sprintf("ssl=%t", a.config.SSL),
	}
	if a.config.Node != "" {
		txt = append(txt, fmt.Sprintf("node=%s", a.config.Node))
	}
	return txt
}

// Start registers the service. It is a no-op when advertisement is disabled.
// The advertisement stays up until Stop.
func (a *Advertiser) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if a.running {
		return fmt.Errorf("mdns advertiser already running")
	}
	if !a.config.Enabled {
		return nil
	}
	if a.config.Port <= 0 {
		return fmt.Errorf("mdns: invalid port %d", a.config.Port)
	}

	server, err := register(a.config.Name, a.config.Service, a.config.Domain, a.config.Port, a.TXT())
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	a.running = true

	logger.InfoCF("discovery", "Advertising relay", map[string]any{
		"name":    a.config.Name,
		"service": a.config.Service,
		"domain":  a.config.Domain,
		"port":    a.config.Port,
	})
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.running = false
	logger.InfoC("discovery", "Advertisement withdrawn")
}

func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
