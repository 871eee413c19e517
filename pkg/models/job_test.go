package models_test

import (
	"testing"

	"github.com/kiranshivaraju/vidaudio/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to models.Status
		want     bool
	}{
		{models.StatusQueued, models.StatusProcessing, true},
		{models.StatusQueued, models.StatusCompleted, true},
		{models.StatusQueued, models.StatusFailed, true},
		{models.StatusProcessing, models.StatusCompleted, true},
		{models.StatusProcessing, models.StatusFailed, true},
		{models.StatusProcessing, models.StatusQueued, false},
		{models.StatusProcessing, models.StatusProcessing, false},
		{models.StatusCompleted, models.StatusFailed, false},
		{models.StatusFailed, models.StatusCompleted, false},
		{models.StatusCompleted, models.StatusProcessing, false},
		{models.StatusQueued, models.Status("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, models.StatusQueued.IsTerminal())
	assert.False(t, models.StatusProcessing.IsTerminal())
	assert.True(t, models.StatusCompleted.IsTerminal())
	assert.True(t, models.StatusFailed.IsTerminal())
}

func TestBackend_Valid(t *testing.T) {
	assert.True(t, models.BackendLocal.Valid())
	assert.True(t, models.BackendRemote.Valid())
	assert.False(t, models.Backend("").Valid())
	assert.False(t, models.Backend("cloud").Valid())
}
