package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/store"
)

const defaultPrefix = "rischooldata"

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires stored tables; zero keeps them until deleted.
	TTL time.Duration
}

type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

type storedMeta struct {
	FetchID   string    `json:"fetch_id"`
	FetchedAt time.Time `json:"fetched_at"`
	RowCount  int       `json:"row_count"`
}

func New(ctx context.Context, config Config) (*Store, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Store{client: client, prefix: config.Prefix, ttl: config.TTL}, nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) SaveTable(ctx context.Context, key store.TableKey, table model.Table) (store.TableMeta, error) {
	meta := store.NewMeta(table)
	data, err := json.Marshal(table)
	if err != nil {
		return store.TableMeta{}, err
	}
	encodedMeta, err := json.Marshal(storedMeta{
		FetchID:   meta.FetchID.String(),
		FetchedAt: meta.FetchedAt,
		RowCount:  meta.RowCount,
	})
	if err != nil {
		return store.TableMeta{}, err
	}

	tableKey := s.tableKey(key)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, tableKey)
		pipe.HSet(ctx, tableKey, "meta", encodedMeta, "data", data)
		if s.ttl > 0 {
			pipe.Expire(ctx, tableKey, s.ttl)
		}
		pipe.ZAdd(ctx, s.yearsKey(key.Provider, key.Tidy), goredis.Z{
			Score:  float64(key.EndYear),
			Member: strconv.Itoa(key.EndYear),
		})
		return nil
	})
	if err != nil {
		return store.TableMeta{}, err
	}
	return meta, nil
}

func (s *Store) LoadTable(ctx context.Context, key store.TableKey) (model.Table, store.TableMeta, error) {
	values, err := s.client.HMGet(ctx, s.tableKey(key), "meta", "data").Result()
	if err != nil {
		return model.Table{}, store.TableMeta{}, err
	}
	encodedMeta, metaOK := values[0].(string)
	data, dataOK := values[1].(string)
	if !metaOK || !dataOK {
		return model.Table{}, store.TableMeta{}, store.ErrNotFound
	}

	var stored storedMeta
	if err := json.Unmarshal([]byte(encodedMeta), &stored); err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("redis: meta: %w", err)
	}
	fetchID, err := uuid.Parse(stored.FetchID)
	if err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("redis: fetch id: %w", err)
	}

	var table model.Table
	if err := json.Unmarshal([]byte(data), &table); err != nil {
		return model.Table{}, store.TableMeta{}, fmt.Errorf("redis: data: %w", err)
	}
	if table.Rows == nil {
		table.Rows = make([][]string, 0)
	}

	return table, store.TableMeta{
		FetchID:   fetchID,
		FetchedAt: stored.FetchedAt,
		RowCount:  stored.RowCount,
	}, nil
}

// ListYears returns the years whose tables are still present; entries whose
// table expired are pruned from the index.
func (s *Store) ListYears(ctx context.Context, provider string, tidy bool) ([]int, error) {
	yearsKey := s.yearsKey(provider, tidy)
	members, err := s.client.ZRange(ctx, yearsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	years := make([]int, 0, len(members))
	for _, member := range members {
		year, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("redis: year index member %q: %w", member, err)
		}
		key := store.TableKey{Provider: provider, EndYear: year, Tidy: tidy}
		exists, err := s.client.Exists(ctx, s.tableKey(key)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			if err := s.client.ZRem(ctx, yearsKey, member).Err(); err != nil {
				return nil, err
			}
			continue
		}
		years = append(years, year)
	}
	return years, nil
}

func (s *Store) DeleteTable(ctx context.Context, key store.TableKey) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.tableKey(key))
		pipe.ZRem(ctx, s.yearsKey(key.Provider, key.Tidy), strconv.Itoa(key.EndYear))
		return nil
	})
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	return err
}

func (s *Store) tableKey(key store.TableKey) string {
	return fmt.Sprintf("%s:table:%s:%s:%d", s.prefix, key.Provider, shape(key.Tidy), key.EndYear)
}

func (s *Store) yearsKey(provider string, tidy bool) string {
	return fmt.Sprintf("%s:years:%s:%s", s.prefix, provider, shape(tidy))
}

func shape(tidy bool) string {
	if tidy {
		return "tidy"
	}
	return "raw"
}

var _ store.Store = (*Store)(nil)
