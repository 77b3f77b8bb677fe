package domain_test

import (
	"testing"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition_Table(t *testing.T) {
	all := []domain.JobState{
		domain.JobPending, domain.JobRunning, domain.JobSucceeded, domain.JobFailed, domain.JobCancelled,
	}
	legal := map[[2]domain.JobState]bool{
		{domain.JobPending, domain.JobRunning}:   true,
		{domain.JobPending, domain.JobCancelled}: true,
		{domain.JobRunning, domain.JobSucceeded}: true,
		{domain.JobRunning, domain.JobFailed}:    true,
		{domain.JobRunning, domain.JobCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]domain.JobState{from, to}]
			assert.Equal(t, want, domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCheckTransition_TerminalStates(t *testing.T) {
	for _, s := range []domain.JobState{domain.JobSucceeded, domain.JobFailed, domain.JobCancelled} {
		assert.True(t, s.Terminal())
		err := domain.CheckTransition(s, domain.JobRunning)
		assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	}

	err := domain.CheckTransition(domain.JobPending, domain.JobSucceeded)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestValidPath(t *testing.T) {
	assert.True(t, domain.ValidPath([]domain.JobState{domain.JobPending}))
	assert.True(t, domain.ValidPath([]domain.JobState{domain.JobPending, domain.JobCancelled}))
	assert.True(t, domain.ValidPath([]domain.JobState{domain.JobPending, domain.JobRunning, domain.JobFailed}))
	assert.False(t, domain.ValidPath([]domain.JobState{domain.JobRunning}))
	assert.False(t, domain.ValidPath([]domain.JobState{domain.JobPending, domain.JobSucceeded}))
	assert.False(t, domain.ValidPath(nil))
}
