//go:build integration

package dedupe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"inntekt/internal/resolve/dedupe"
	"inntekt/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *dedupe.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = dedupe.NewRedisStore(s.redis.Client, time.Hour)
}

func (s *RedisStoreSuite) SetupTest() {
	err := s.redis.Client.FlushAll(context.Background()).Err()
	s.Require().NoError(err)
}

func (s *RedisStoreSuite) TestSeenMarkRoundTrip() {
	ctx := context.Background()

	seen, err := s.store.Seen(ctx, "b1")
	s.Require().NoError(err)
	s.False(seen)

	s.Require().NoError(s.store.Mark(ctx, "b1"))

	seen, err = s.store.Seen(ctx, "b1")
	s.Require().NoError(err)
	s.True(seen)
}

func (s *RedisStoreSuite) TestRetentionExpiresKeys() {
	ctx := context.Background()
	shortLived := dedupe.NewRedisStore(s.redis.Client, time.Second)

	s.Require().NoError(shortLived.Mark(ctx, "b1"))

	s.Eventually(func() bool {
		seen, err := shortLived.Seen(ctx, "b1")
		return err == nil && !seen
	}, 5*time.Second, 100*time.Millisecond)
}
