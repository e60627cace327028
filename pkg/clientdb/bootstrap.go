package clientdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/tinyland-inc/noderedmind/pkg/config"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

// Open returns the store selected by cfg.ClientDB.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ClientDB.Backend {
	case config.BackendJSON, "":
		return OpenFileStore(cfg.ClientDBPath())
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.ClientDB.RedisURL)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.ClientDB.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown client db backend %q", cfg.ClientDB.Backend)
	}
}

// Identity describes the default client the relay provisions for itself.
type Identity struct {
	Name      string
	Password  string
	AccessKey string
	Blacklist peers.Policy
}

// IdentityFromConfig maps the configured username, secrets and blacklist.
func IdentityFromConfig(cfg *config.Config) Identity {
	return Identity{
		Name:      cfg.Username,
		Password:  cfg.Password,
		AccessKey: cfg.AccessKey,
		Blacklist: peers.Policy{
			Messages: cfg.Blacklist.Messages,
			Skills:   cfg.Blacklist.Skills,
			Intents:  cfg.Blacklist.Intents,
		},
	}
}

// Bootstrap makes sure a client named id.Name exists. Missing secrets are
// generated. It returns the identity with its effective secrets and whether a
// client was created; for an existing client the secrets are not known and
// are left as configured.
func Bootstrap(ctx context.Context, store Store, id Identity) (Identity, bool, error) {
	if err := ValidateName(id.Name); err != nil {
		return id, false, err
	}

	existing, err := store.GetClientsByName(ctx, id.Name)
	if err != nil {
		return id, false, fmt.Errorf("looking up %s: %w", id.Name, err)
	}
	if len(existing) > 0 {
		logger.DebugCF("clientdb", "Client already provisioned", map[string]any{
			"name": id.Name,
			"id":   existing[0].ID,
		})
		return id, false, nil
	}

	if id.Password == "" {
		if id.Password, err = RandomSecret(); err != nil {
			return id, false, err
		}
	}
	if id.AccessKey == "" {
		if id.AccessKey, err = RandomSecret(); err != nil {
			return id, false, err
		}
	}

	c, err := NewClient(id.Name, id.AccessKey, id.Password, id.Blacklist)
	if err != nil {
		return id, false, err
	}
	if err := store.AddClient(ctx, c); err != nil {
		return id, false, fmt.Errorf("adding %s: %w", id.Name, err)
	}

	logger.InfoCF("clientdb", "Provisioned client credentials", map[string]any{
		"name":       id.Name,
		"id":         c.ID,
		"access_key": id.AccessKey,
		"password":   id.Password,
	})
	return id, true, nil
}

// RandomSecret returns 16 random bytes as lowercase hex.
func RandomSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
