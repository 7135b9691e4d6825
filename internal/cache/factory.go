package cache

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // memory | redis | disk
	Prefix  string
	DataDir string
}

// NewStorage builds the configured backend and wraps it with logging.
func NewStorage(cfg Config, redisClient *redis.Client) (Storage, error) {
	var s Storage
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "redis backend needs a redis client")
		}
		s = NewRedisStorage(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	case "disk":
		if cfg.DataDir == "" {
			return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "disk backend needs a data directory")
		}
		s = NewDiskStorage(osfs.New(filepath.Join(cfg.DataDir, "caches")))
	case "memory", "":
		s = NewMemoryStorage()
	default:
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, fmt.Sprintf("unknown cache backend %q", cfg.Backend))
	}
	return NewLoggingStorage(s), nil
}
