// internal/workers/retrieval/retriever-search/config.go
package retrieversearch

import (
	"time"

	"retriever-agent/pkg/registry"
)

const defaultTimeout = 15 * time.Second

type Config struct {
	Timeout time.Duration
	// FailOnError routes unsuccessful envelopes through the job error
	// handler instead of completing the job with success=false.
	FailOnError bool
}

// LoadConfig takes the job timeout from the activity registry.
func LoadConfig() *Config {
	cfg := &Config{Timeout: defaultTimeout}

	reg, err := registry.Default()
	if err != nil {
		return cfg
	}
	activity, err := reg.ByTaskType(TaskType)
	if err != nil {
		return cfg
	}
	if d, err := activity.TimeoutDuration(); err == nil {
		cfg.Timeout = d
	}
	return cfg
}
