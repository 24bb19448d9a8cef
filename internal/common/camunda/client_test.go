package camunda

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"retriever-agent/internal/common/errors"
)

func TestIsRetryableZeebeError(t *testing.T) {
	assert.True(t, isRetryableZeebeError(fmt.Errorf("rpc error: code = Unavailable desc = connection refused")))
	assert.True(t, isRetryableZeebeError(fmt.Errorf("context deadline exceeded")))
	assert.False(t, isRetryableZeebeError(fmt.Errorf("rpc error: code = NotFound desc = job not found")))
}

func TestMapZeebeError(t *testing.T) {
	tests := []struct {
		err  error
		want errors.ErrorCode
	}{
		{fmt.Errorf("connection refused"), errors.ErrCodeExternalService},
		{fmt.Errorf("context deadline exceeded"), errors.ErrCodeTimeout},
		{fmt.Errorf("job 42 not found"), errors.ErrCodeNotFound},
		{fmt.Errorf("rpc error: code = Unauthenticated"), errors.ErrCodeAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := mapZeebeError(tt.err, "topology", 2)
			assert.Equal(t, tt.want, errors.CodeOf(err))
			assert.Contains(t, err.Error(), "after 3 attempts")
		})
	}
}

func TestBackoff(t *testing.T) {
	rc := &RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, backoff(rc, 0))
	assert.Equal(t, 4*time.Second, backoff(rc, 2))
	assert.Equal(t, 5*time.Second, backoff(rc, 3))
	assert.Equal(t, 5*time.Second, backoff(rc, 70))
}
