package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct tags and the cross-section rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Media.Enabled {
		switch c.Media.Queue {
		case "redis":
			if c.Redis.Addr == "" {
				errs = append(errs, errors.New("redis.addr is required when media.queue is redis"))
			}
			if c.Redis.Stream == "" {
				errs = append(errs, errors.New("redis.stream is required when media.queue is redis"))
			}
		}
		switch c.Media.Store {
		case "local":
			if c.Media.LocalDir == "" {
				errs = append(errs, errors.New("media.local_dir is required when media.store is local"))
			}
		case "minio":
			if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
				errs = append(errs, errors.New("minio.endpoint and minio.bucket are required when media.store is minio"))
			}
		}
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required when http is enabled"))
	}
	for name, task := range c.Scheduler.Tasks {
		if task.Enabled && task.Schedule == "" {
			errs = append(errs, fmt.Errorf("scheduler.tasks.%s: enabled task needs a schedule", name))
		}
	}
	return errors.Join(errs...)
}

// IsOwner reports whether userID is the configured owner.
func (c *Config) IsOwner(userID int64) bool {
	return userID != 0 && userID == c.Telegram.OwnerID
}
