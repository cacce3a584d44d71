package directory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mlevan/huddle/internal/config"
	"github.com/mlevan/huddle/internal/domain"
)

// RedisDirectory reads room metadata from the hashes the room API writes:
// room:<id> for the room itself, room:<id>:participants for roles.
type RedisDirectory struct {
	rdb *redis.Client
}

func NewRedis(cfg config.RedisConfig) *RedisDirectory {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisDirectory{rdb: rdb}
}

func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

func (d *RedisDirectory) Close() error {
	return d.rdb.Close()
}

func roomKey(id domain.RoomID) string         { return "room:" + string(id) }
func participantsKey(id domain.RoomID) string { return "room:" + string(id) + ":participants" }
func departuresKey(id domain.RoomID) string   { return "room:" + string(id) + ":left" }

func (d *RedisDirectory) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomInfo, error) {
	fields, err := d.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrRoomNotFound
	}

	info := &domain.RoomInfo{
		ID:     roomID,
		HostID: domain.UserID(fields["host_id"]),
		Type:   domain.RoomType(fields["type"]),
	}
	if info.Type == "" {
		info.Type = domain.RoomTypeDirect
	}
	info.IsActive, _ = strconv.ParseBool(fields["is_active"])
	if max, err := strconv.Atoi(fields["max_participants"]); err == nil {
		info.MaxParticipants = max
	}
	return info, nil
}

func (d *RedisDirectory) GetParticipantRole(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Role, error) {
	role, err := d.rdb.HGet(ctx, participantsKey(roomID), string(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotParticipant
	}
	if err != nil {
		return "", err
	}
	return domain.Role(role), nil
}

func (d *RedisDirectory) MarkParticipantLeft(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	leftAt := time.Now().UTC().Format(time.RFC3339)
	err := d.rdb.HSet(ctx, departuresKey(roomID), string(userID), leftAt).Err()
	if err != nil {
		log.Warn().Err(err).Str("module", "directory").Str("room", string(roomID)).Str("user", string(userID)).Msg("mark left failed")
	}
	return err
}
