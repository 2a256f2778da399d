package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"patrol-beat-tracker/internal/models"
)

// upsertScript writes the hash only when the incoming timestamp is not older
// than the stored one. The id field is kept from the first write. Timestamps
// are microseconds so they stay exact as Lua numbers.
var upsertScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'updated_at_us')
if current and tonumber(current) > tonumber(ARGV[5]) then
  return 0
end
redis.call('HSETNX', KEYS[1], 'id', ARGV[6])
redis.call('HSET', KEYS[1],
  'personnel_id', ARGV[1],
  'latitude', ARGV[2],
  'longitude', ARGV[3],
  'accuracy', ARGV[4],
  'updated_at_us', ARGV[5])
return 1
`)

// RedisLocationStore implements LocationStore as one hash per principal,
// the current-state shape a dispatch dashboard can scan directly.
type RedisLocationStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures the redis location store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisLocationStore connects and pings the server
func NewRedisLocationStore(ctx context.Context, cfg RedisConfig) (*RedisLocationStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "patrol:location:"
	}
	return &RedisLocationStore{client: client, prefix: prefix}, nil
}

// Close closes the redis client
func (s *RedisLocationStore) Close() error {
	return s.client.Close()
}

func (s *RedisLocationStore) key(personnelID string) string {
	return s.prefix + personnelID
}

func (s *RedisLocationStore) UpsertLocation(ctx context.Context, rec models.LocationRecord) error {
	err := upsertScript.Run(ctx, s.client, []string{s.key(rec.PersonnelID)},
		rec.PersonnelID,
		strconv.FormatFloat(rec.Latitude, 'f', -1, 64),
		strconv.FormatFloat(rec.Longitude, 'f', -1, 64),
		strconv.FormatFloat(rec.Accuracy, 'f', -1, 64),
		strconv.FormatInt(rec.UpdatedAt.UTC().UnixMicro(), 10),
		uuid.NewString(),
	).Err()
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (s *RedisLocationStore) DeleteLocation(ctx context.Context, personnelID string) error {
	if err := s.client.Del(ctx, s.key(personnelID)).Err(); err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}

func (s *RedisLocationStore) GetLocation(ctx context.Context, personnelID string) (*models.LocationRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(personnelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &models.LocationRecord{
		ID:          fields["id"],
		PersonnelID: fields["personnel_id"],
	}
	if rec.Latitude, err = strconv.ParseFloat(fields["latitude"], 64); err != nil {
		return nil, fmt.Errorf("decode latitude: %w", err)
	}
	if rec.Longitude, err = strconv.ParseFloat(fields["longitude"], 64); err != nil {
		return nil, fmt.Errorf("decode longitude: %w", err)
	}
	if rec.Accuracy, err = strconv.ParseFloat(fields["accuracy"], 64); err != nil {
		return nil, fmt.Errorf("decode accuracy: %w", err)
	}
	us, err := strconv.ParseInt(fields["updated_at_us"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	rec.UpdatedAt = time.UnixMicro(us).UTC()
	return rec, nil
}
