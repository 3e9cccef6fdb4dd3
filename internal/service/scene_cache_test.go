package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailquest/checkin-service/internal/models"
	"github.com/trailquest/checkin-service/internal/repository"
)

type fakeRedisJSON struct {
	store map[string][]byte
	fail  bool
}

func (f *fakeRedisJSON) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if f.fail {
		return errors.New("redis down")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.store == nil {
		f.store = map[string][]byte{}
	}
	f.store[key] = b
	return nil
}

func (f *fakeRedisJSON) GetJSON(_ context.Context, key string, dest interface{}) error {
	if f.fail {
		return errors.New("redis down")
	}
	b, ok := f.store[key]
	if !ok {
		return errors.New("missing")
	}
	return json.Unmarshal(b, dest)
}

type countingSceneRepo struct {
	fakeSceneRepo
	calls int
}

func (c *countingSceneRepo) GetSceneByID(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	c.calls++
	return c.fakeSceneRepo.GetSceneByID(ctx, sceneID)
}

func TestCachedSceneLoaderReadThrough(t *testing.T) {
	sceneID := uuid.New()
	repo := &countingSceneRepo{fakeSceneRepo: fakeSceneRepo{scenes: map[uuid.UUID]*models.Scene{
		sceneID: {ID: sceneID, Name: "Old Mill", PointsReward: 50},
	}}}
	rdb := &fakeRedisJSON{}
	loader := NewCachedSceneLoader(repo, rdb, time.Minute)

	s1, err := loader.GetSceneByID(context.Background(), sceneID)
	require.NoError(t, err)
	assert.Equal(t, "Old Mill", s1.Name)
	assert.Equal(t, 1, repo.calls)

	s2, err := loader.GetSceneByID(context.Background(), sceneID)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, 1, repo.calls, "second read served from cache")
}

func TestCachedSceneLoaderMissPropagates(t *testing.T) {
	repo := &countingSceneRepo{fakeSceneRepo: fakeSceneRepo{scenes: map[uuid.UUID]*models.Scene{}}}
	loader := NewCachedSceneLoader(repo, &fakeRedisJSON{}, time.Minute)

	_, err := loader.GetSceneByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCachedSceneLoaderSurvivesCacheFailure(t *testing.T) {
	sceneID := uuid.New()
	repo := &countingSceneRepo{fakeSceneRepo: fakeSceneRepo{scenes: map[uuid.UUID]*models.Scene{
		sceneID: {ID: sceneID, Name: "Harbor Gate"},
	}}}
	loader := NewCachedSceneLoader(repo, &fakeRedisJSON{fail: true}, time.Minute)

	s, err := loader.GetSceneByID(context.Background(), sceneID)
	require.NoError(t, err)
	assert.Equal(t, "Harbor Gate", s.Name)
}
