package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		ok   bool
	}{
		{"idle to starting", StateIdle, StateStarting, true},
		{"starting to running", StateStarting, StateRunning, true},
		{"starting to restarting", StateStarting, StateRestarting, true},
		{"running to restarting", StateRunning, StateRestarting, true},
		{"running to stopping", StateRunning, StateStopping, true},
		{"restarting to starting", StateRestarting, StateStarting, true},
		{"stopping to idle", StateStopping, StateIdle, true},
		{"idle to running", StateIdle, StateRunning, false},
		{"idle to restarting", StateIdle, StateRestarting, false},
		{"running to running", StateRunning, StateRunning, false},
		{"restart while restarting", StateRestarting, StateRestarting, false},
		{"restarting to running", StateRestarting, StateRunning, false},
		{"stopping to starting", StateStopping, StateStarting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &lifecycle{state: tt.from}
			err := l.to(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, l.current())
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, l.current(), "failed transition must not move the state")
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "restarting", StateRestarting.String())
}
