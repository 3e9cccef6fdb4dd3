package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/repository"
)

const sceneCachePrefix = "scene:"

// redisJSON is the minimal cache surface the loader needs. The
// internal/client RedisClient satisfies it.
type redisJSON interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// CachedSceneLoader is a read-through cache over the scene repository.
// Scenes change rarely during a live game, so TTL-based eventual
// consistency is enough; misses and cache errors fall through to the
// repository.
type CachedSceneLoader struct {
	repo repository.SceneRepository
	rdb  redisJSON
	ttl  time.Duration
}

func NewCachedSceneLoader(repo repository.SceneRepository, rdb redisJSON, ttl time.Duration) *CachedSceneLoader {
	return &CachedSceneLoader{repo: repo, rdb: rdb, ttl: ttl}
}

func (l *CachedSceneLoader) GetSceneByID(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	if l.rdb != nil && l.ttl > 0 {
		var s models.Scene
		if err := l.rdb.GetJSON(ctx, sceneCachePrefix+sceneID.String(), &s); err == nil && s.ID != uuid.Nil {
			return &s, nil
		}
	}

	s, err := l.repo.GetSceneByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	if l.rdb != nil && l.ttl > 0 {
		_ = l.rdb.SetJSON(ctx, sceneCachePrefix+sceneID.String(), s, l.ttl)
	}
	return s, nil
}
