package clientdb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tinyland-inc/noderedmind/pkg/config"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

func TestMain(m *testing.M) {
	HashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func openTemp(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "clients.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	return s, path
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"nodered", false},
		{"flows-1", false},
		{"", true},
		{"   ", true},
		{" padded", true},
		{"../etc", true},
		{"a/b", true},
		{`a\b`, true},
		{"user:pass", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.wantErr {
			assert.Error(t, err, "%q", tt.name)
		} else {
			assert.NoError(t, err, "%q", tt.name)
		}
	}
}

func TestNewClientHashesSecrets(t *testing.T) {
	c, err := NewClient("nodered", "key", "pw", peers.Policy{Messages: []string{"speak"}})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.NotEqual(t, "key", c.AccessKeyHash)
	assert.True(t, c.VerifyAccessKey("key"))
	assert.False(t, c.VerifyAccessKey("nope"))
	assert.False(t, c.VerifyAccessKey(""))
	assert.True(t, c.VerifyPassword("pw"))
	assert.False(t, c.VerifyPassword(""))

	_, err = NewClient("nodered", "", "", peers.Policy{})
	assert.Error(t, err)
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	c, err := NewClient("nodered", "key", "", peers.Policy{Intents: []string{"x:y"}})
	require.NoError(t, err)
	require.NoError(t, s.AddClient(ctx, c))

	err = s.AddClient(ctx, c)
	assert.ErrorIs(t, err, ErrClientExists)

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	got, err := reopened.GetClientsByName(ctx, "nodered")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, []string{"x:y"}, got[0].Blacklist.Intents)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreListSorted(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		c, err := NewClient(name, "k", "", peers.Policy{})
		require.NoError(t, err)
		require.NoError(t, s.AddClient(ctx, c))
	}

	list, err := s.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	c, err := NewClient("nodered", "secret", "", peers.Policy{})
	require.NoError(t, err)
	require.NoError(t, s.AddClient(ctx, c))

	got, err := Authenticate(ctx, s, "nodered", "secret")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = Authenticate(ctx, s, "nodered", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = Authenticate(ctx, s, "ghost", "secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	first, created, err := Bootstrap(ctx, s, Identity{Name: "nodered"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.AccessKey, 32)
	assert.Len(t, first.Password, 32)

	_, created, err = Bootstrap(ctx, s, Identity{Name: "nodered"})
	require.NoError(t, err)
	assert.False(t, created)

	list, err := s.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = Authenticate(ctx, s, "nodered", first.AccessKey)
	assert.NoError(t, err)
}

func TestBootstrapKeepsConfiguredSecrets(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	id, created, err := Bootstrap(ctx, s, Identity{
		Name:      "flows",
		AccessKey: "configured-key",
		Password:  "configured-pw",
		Blacklist: peers.Policy{Skills: []string{"skill-x"}},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "configured-key", id.AccessKey)

	c, err := Authenticate(ctx, s, "flows", "configured-key")
	require.NoError(t, err)
	assert.True(t, c.VerifyPassword("configured-pw"))
	assert.Equal(t, []string{"skill-x"}, c.Blacklist.Skills)
}

func TestBootstrapConcurrentCallsSettleOnOneClient(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = Bootstrap(ctx, s, Identity{Name: "nodered"})
		}()
	}
	wg.Wait()

	list, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBootstrapRejectsBadName(t *testing.T) {
	s, _ := openTemp(t)
	_, _, err := Bootstrap(context.Background(), s, Identity{Name: "../x"})
	assert.Error(t, err)
}

func TestRandomSecretUnique(t *testing.T) {
	a, err := RandomSecret()
	require.NoError(t, err)
	b, err := RandomSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestOpenSelectsBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ClientDB.Path = filepath.Join(t.TempDir(), "c.json")
	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
	require.NoError(t, store.Close())

	cfg.ClientDB.Backend = config.BackendRedis
	cfg.ClientDB.RedisURL = "not-a-url"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)

	cfg.ClientDB.Backend = "sqlite"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "noderedmind:client:nodered", clientKey("nodered"))
}
