// Package clientdb persists the identities that may connect to the relay.
package clientdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

var (
	ErrClientExists       = errors.New("client already exists")
	ErrNotFound           = errors.New("client not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// HashCost is the bcrypt cost used for new secrets.
var HashCost = bcrypt.DefaultCost

// Client is a stored identity. Secrets are kept only as bcrypt hashes.
type Client struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	AccessKeyHash string       `json:"access_key_hash"`
	PasswordHash  string       `json:"password_hash,omitempty"`
	Blacklist     peers.Policy `json:"blacklist"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewClient builds a record for name, hashing accessKey and password.
// password may be empty.
func NewClient(name, accessKey, password string, blacklist peers.Policy) (Client, error) {
	if err := ValidateName(name); err != nil {
		return Client{}, err
	}
	if accessKey == "" {
		return Client{}, errors.New("access key is required")
	}

	keyHash, err := bcrypt.GenerateFromPassword([]byte(accessKey), HashCost)
	if err != nil {
		return Client{}, fmt.Errorf("hashing access key: %w", err)
	}
	c := Client{
		ID:            ulid.Make().String(),
		Name:          name,
		AccessKeyHash: string(keyHash),
		Blacklist:     blacklist,
		CreatedAt:     time.Now().UTC(),
	}
	if password != "" {
		pwHash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
		if err != nil {
			return Client{}, fmt.Errorf("hashing password: %w", err)
		}
		c.PasswordHash = string(pwHash)
	}
	return c, nil
}

// VerifyAccessKey reports whether key matches the stored access key.
func (c Client) VerifyAccessKey(key string) bool {
	if c.AccessKeyHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.AccessKeyHash), []byte(key)) == nil
}

// VerifyPassword reports whether password matches. Clients without a stored
// password accept only the empty password.
func (c Client) VerifyPassword(password string) bool {
	if c.PasswordHash == "" {
		return password == ""
	}
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
}

// ValidateName checks that name is non-empty and does not contain path
// separators or "..".
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("client name is required and must be a non-empty string")
	}
	if trimmed != name {
		return errors.New("client name must not have surrounding whitespace")
	}
	if strings.ContainsAny(trimmed, "/\\:") || strings.Contains(trimmed, "..") {
		return errors.New("client name must not contain path separators, ':' or '..'")
	}
	return nil
}

// Store is a client database.
type Store interface {
	GetClientsByName(ctx context.Context, name string) ([]Client, error)
	// AddClient stores c. It returns ErrClientExists when the name is taken.
	AddClient(ctx context.Context, c Client) error
	ListClients(ctx context.Context) ([]Client, error)
	Close() error
}

// Authenticate looks up name in store and checks key against it.
func Authenticate(ctx context.Context, store Store, name, key string) (Client, error) {
	clients, err := store.GetClientsByName(ctx, name)
	if err != nil {
		return Client{}, err
	}
	if len(clients) == 0 {
		return Client{}, ErrNotFound
	}
	for _, c := range clients {
		if c.VerifyAccessKey(key) {
			return c, nil
		}
	}
	return Client{}, ErrInvalidCredentials
}
