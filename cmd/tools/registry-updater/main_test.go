package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retriever-agent/pkg/registry"
)

func writeRegistry(t *testing.T) string {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "activity-registry.json")
	require.NoError(t, saveRegistry(reg, path))
	return path
}

func TestValidateRegistry_Builtin(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	assert.NoError(t, validateRegistry(reg))
}

func TestValidateRegistry_Rejects(t *testing.T) {
	base, err := registry.Default()
	require.NoError(t, err)
	activity := base.Activities[0]

	tests := []struct {
		name   string
		mutate func(reg *registry.ActivityRegistry)
		want   string
	}{
		{"empty", func(reg *registry.ActivityRegistry) { reg.Activities = nil }, "no activities"},
		{"duplicate id", func(reg *registry.ActivityRegistry) {
			dup := activity
			dup.TaskType = "other"
			reg.Activities = append(reg.Activities, dup)
		}, "duplicate activity ID"},
		{"duplicate task type", func(reg *registry.ActivityRegistry) {
			dup := activity
			dup.ID = "other"
			reg.Activities = append(reg.Activities, dup)
		}, "duplicate task type"},
		{"bad timeout", func(reg *registry.ActivityRegistry) { reg.Activities[0].Timeout = "soon" }, "invalid timeout"},
		{"bad schema", func(reg *registry.ActivityRegistry) {
			reg.Activities[0].InputSchema = map[string]interface{}{"type": 42}
		}, "input schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &registry.ActivityRegistry{Activities: []registry.Activity{activity}}
			tt.mutate(reg)
			err := validateRegistry(reg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckPayload(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	problems, err := checkPayload(reg, "retriever-search", []byte(`{"query":"refund policy","context":{"limit":5}}`))
	require.NoError(t, err)
	assert.Empty(t, problems)

	problems, err = checkPayload(reg, "retriever-search", []byte(`{"context":{"limit":0}}`))
	require.NoError(t, err)
	assert.Len(t, problems, 2)

	_, err = checkPayload(reg, "unknown-task", []byte(`{}`))
	assert.Error(t, err)
}

func TestUpdateActivity(t *testing.T) {
	path := writeRegistry(t)

	require.NoError(t, updateActivity(path, "retrieval.document.search", "timeout", "20s"))
	require.NoError(t, updateActivity(path, "retrieval.document.search", "retries", "4"))

	reg, err := registry.LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "20s", reg.Activities[0].Timeout)
	assert.Equal(t, 4, reg.Activities[0].Retries)

	assert.Error(t, updateActivity(path, "retrieval.document.search", "timeout", "later"))
	assert.Error(t, updateActivity(path, "retrieval.document.search", "owner", "x"))
	assert.Error(t, updateActivity(path, "missing", "status", "planned"))
}

func TestRunValidateAndCheck(t *testing.T) {
	path := writeRegistry(t)

	var out bytes.Buffer
	require.NoError(t, runValidate([]string{"-path", path}, &out))
	assert.Contains(t, out.String(), "Found 1 activities")

	payload := filepath.Join(t.TempDir(), "payload.json")
	body, err := json.Marshal(map[string]interface{}{"query": "x", "context": map[string]interface{}{"limit": 500}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(payload, body, 0o600))

	out.Reset()
	err = runCheck([]string{"-payload", payload}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "limit")
}
