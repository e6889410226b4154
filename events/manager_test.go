package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-broker/events"
)

func recorder(seen *[]string, tag string, ret any) func(context.Context, *events.Event) (any, error) {
	return func(_ context.Context, _ *events.Event) (any, error) {
		*seen = append(*seen, tag)
		return ret, nil
	}
}

func TestManager_PriorityOrderAndCaseInsensitiveNames(t *testing.T) {
	m := events.NewManager(nil)

	var seen []string

	m.AttachFunc("init.Users.Find", recorder(&seen, "low", 1), 1)
	m.AttachFunc("init.users.find", recorder(&seen, "high", 2), 100)
	m.AttachFunc("init.users.find", recorder(&seen, "low-2", 3), 1)

	res, err := m.Trigger(t.Context(), events.New("INIT.users.find", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "low", "low-2"}, seen)
	assert.Equal(t, []any{2, 1, 3}, res.All())
	assert.False(t, res.Stopped())
}

func TestManager_StopPropagation(t *testing.T) {
	m := events.NewManager(nil)

	var seen []string

	m.AttachFunc("job.start", func(_ context.Context, e *events.Event) (any, error) {
		seen = append(seen, "stopper")
		e.StopPropagation(true)

		return false, nil
	}, 10)
	m.AttachFunc("job.start", recorder(&seen, "never", nil), 1)

	res, err := m.Trigger(t.Context(), events.New(events.JobStart, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"stopper"}, seen)
	assert.True(t, res.Stopped())
	assert.True(t, res.Contains(false))
}

func TestManager_ListenerErrorAborts(t *testing.T) {
	m := events.NewManager(nil)
	boom := errors.New("boom")

	var seen []string

	m.AttachFunc("x", func(context.Context, *events.Event) (any, error) { return nil, boom }, 5)
	m.AttachFunc("x", recorder(&seen, "after", nil), 1)

	_, err := m.Trigger(t.Context(), events.New("x", nil))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, seen)
}

func TestManager_WildcardMergedByPriorityAndAttachOrder(t *testing.T) {
	m := events.NewManager(nil)

	var seen []string

	m.AttachFunc("*", recorder(&seen, "wild-first", nil), 1)
	m.AttachFunc("final.users.find", recorder(&seen, "named", nil), 1)
	m.AttachFunc("*", recorder(&seen, "wild-high", nil), 50)

	_, err := m.Trigger(t.Context(), events.New("final.users.find", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"wild-high", "wild-first", "named"}, seen)
	assert.True(t, m.HasListeners("anything"))
}

func TestManager_Detach(t *testing.T) {
	m := events.NewManager(nil)

	var seen []string

	detach := m.AttachFunc("x", recorder(&seen, "a", nil), 1)
	assert.True(t, m.HasListeners("x"))

	detach()
	assert.False(t, m.HasListeners("x"))

	res, err := m.Trigger(t.Context(), events.New("x", nil))
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())
	assert.Empty(t, seen)
}

func TestEvent_ErrorReplacement(t *testing.T) {
	e := events.New(events.FinalPrefix+"users.find", nil)
	e.SetError(errors.New("original"))

	e.SetError(nil)
	assert.NoError(t, e.Err())
}
