package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/projectpulse/internal/domain"
)

func TestEnvelopeMarshalFlattensExtra(t *testing.T) {
	env := Envelope{
		Type:      TypeProjectStatusChange,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ProjectID: "proj_1",
		Status:    domain.StatusInReview,
		Extra: map[string]any{
			"reviewer": "alice",
			"attempt":  2,
		},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "project_status_change", decoded["type"])
	assert.Equal(t, "proj_1", decoded["projectId"])
	assert.Equal(t, "in_review", decoded["status"])
	assert.Equal(t, "alice", decoded["reviewer"])
	assert.Equal(t, float64(2), decoded["attempt"])
}

func TestEnvelopeMarshalFixedFieldsWinOverExtra(t *testing.T) {
	env := Envelope{
		Type:      TypeProgressUpdate,
		Timestamp: time.Now().UTC(),
		ProjectID: "proj_1",
		Extra: map[string]any{
			"type":      "spoofed",
			"projectId": "proj_other",
		},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "progress_update", decoded["type"])
	assert.Equal(t, "proj_1", decoded["projectId"])
}

func TestEnvelopeMarshalOmitsEmptyFields(t *testing.T) {
	env := Envelope{
		Type:      TypeConnectionEstablished,
		Timestamp: time.Now().UTC(),
		Message:   "connected to consulting updates",
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.NotContains(t, decoded, "projectId")
	assert.NotContains(t, decoded, "status")
	assert.NotContains(t, decoded, "error")
}

func TestErrorEnvelope(t *testing.T) {
	now := time.Now().UTC()
	env := ErrorEnvelope(now, "rate limit exceeded")

	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, now, env.Timestamp)
	assert.Equal(t, "rate limit exceeded", env.Error)
}
