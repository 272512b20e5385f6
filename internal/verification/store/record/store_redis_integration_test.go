//go:build integration

package record_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"ekyc/internal/verification/store/record"
	"ekyc/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	storeContractSuite
	redis *containers.RedisContainer
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = record.NewRedis(s.redis.Client.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}
