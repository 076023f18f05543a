package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu2310/Wflow/errors"
	wftesting "github.com/ayu2310/Wflow/internal/testing"
)

func TestStoreCreateGetRoundTrip(t *testing.T) {
	store := NewStore(wftesting.CreateTestDB(t))

	w := &Workflow{
		UserID:      "user-1",
		Name:        "price check",
		Description: "daily price snapshot",
		Steps: []Step{
			{ID: "s1", Type: StepNavigate, Order: 1},
			{ID: "s2", Type: StepExtract, Order: 2, Description: "grab the price"},
		},
		Settings: ExecutionSettings{TimeoutSeconds: 120, Timezone: "Europe/Berlin"},
	}

	warnings, err := store.Create(w)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.NotEmpty(t, w.ID)

	got, err := store.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "price check", got.Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, StepExtract, got.Steps[1].Type)
	assert.Equal(t, 120, got.Settings.TimeoutSeconds)
	assert.Equal(t, "Europe/Berlin", got.Settings.Timezone)
}

func TestStoreCreateSurfacesWarnings(t *testing.T) {
	store := NewStore(wftesting.CreateTestDB(t))

	w := &Workflow{
		UserID: "user-1",
		Name:   "dup order",
		Steps: []Step{
			{ID: "a", Type: StepNavigate, Order: 1},
			{ID: "b", Type: StepAct, Order: 1},
		},
	}

	warnings, err := store.Create(w)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}

func TestStoreCreateRejectsInvalidWorkflow(t *testing.T) {
	store := NewStore(wftesting.CreateTestDB(t))

	_, err := store.Create(&Workflow{UserID: "user-1", Name: "empty"})
	assert.Error(t, err)
}

func TestStoreUpdateAndDelete(t *testing.T) {
	store := NewStore(wftesting.CreateTestDB(t))

	w := &Workflow{
		UserID: "user-1",
		Name:   "v1",
		Steps:  []Step{{ID: "s1", Type: StepNavigate, Order: 1}},
	}
	_, err := store.Create(w)
	require.NoError(t, err)

	w.Name = "v2"
	_, err = store.Update(w)
	require.NoError(t, err)

	got, err := store.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)

	require.NoError(t, store.Delete(w.ID))
	_, err = store.Get(w.ID)
	assert.True(t, errors.IsNotFoundError(err))

	assert.True(t, errors.IsNotFoundError(store.Delete(w.ID)))
}

func TestStoreListByUser(t *testing.T) {
	store := NewStore(wftesting.CreateTestDB(t))

	for _, name := range []string{"one", "two", "three"} {
		w := &Workflow{
			UserID: "user-1",
			Name:   name,
			Steps:  []Step{{ID: "s1", Type: StepNavigate, Order: 1}},
		}
		_, err := store.Create(w)
		require.NoError(t, err)
	}
	other := &Workflow{
		UserID: "user-2",
		Name:   "not mine",
		Steps:  []Step{{ID: "s1", Type: StepNavigate, Order: 1}},
	}
	_, err := store.Create(other)
	require.NoError(t, err)

	mine, err := store.ListByUser("user-1", 1, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}
