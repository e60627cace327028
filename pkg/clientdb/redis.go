package clientdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisIndexKey = "noderedmind:clients"
)

// clientKey returns the key holding one client record.
func clientKey(name string) string {
	return fmt.Sprintf("noderedmind:client:%s", name)
}

// RedisStore keeps each client as a JSON string plus a set of names.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetClientsByName(ctx context.Context, name string) ([]Client, error) {
	data, err := s.client.Get(ctx, clientKey(name)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c Client
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decoding client %s: %w", name, err)
	}
	return []Client{c}, nil
}

func (s *RedisStore) AddClient(ctx context.Context, c Client) error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, clientKey(c.Name), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientExists, c.Name)
	}
	return s.client.SAdd(ctx, redisIndexKey, c.Name).Err()
}

func (s *RedisStore) ListClients(ctx context.Context) ([]Client, error) {
	names, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = clientKey(name)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	clients := make([]Client, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var c Client
		if err := json.Unmarshal([]byte(str), &c); err != nil {
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}
