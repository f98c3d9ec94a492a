// Package redis implements store.Store on Redis.
package redis

import (
	"context"
	"fmt"
	"sort"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/store"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "bridge:"

// Store keeps each session under <prefix>session:<id> and indexes ids in
// the set <prefix>sessions.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Open connects to addr and checks the connection.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.TransientNetwork(fmt.Errorf("connect redis %s: %w", addr, err))
	}
	return New(client, prefix), nil
}

func (s *Store) key(id string) string { return s.prefix + "session:" + id }

func (s *Store) index() string { return s.prefix + "sessions" }

func (s *Store) Save(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return errors.InvalidInput("id", "required")
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), data, 0)
		pipe.SAdd(ctx, s.index(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == goredis.Nil {
		return nil, errors.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.index(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return errors.NotFound("session", id)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
