package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wolfroute/internal/model"
)

func newJob(id string, created time.Time) model.Job {
	return model.Job{ID: id, DatasetID: "ds1", Status: model.JobPending, CreatedAt: created}
}

func TestMemoryTransitionJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateJob(ctx, newJob("j1", time.Now())))

	j, err := m.TransitionJob(ctx, "j1", []model.JobStatus{model.JobPending}, model.JobRunning, "")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, j.Status)
	assert.NotNil(t, j.StartedAt)
	assert.Nil(t, j.CompletedAt)

	_, err = m.TransitionJob(ctx, "j1", []model.JobStatus{model.JobPending}, model.JobRunning, "")
	assert.ErrorIs(t, err, ErrConflict)

	j, err = m.TransitionJob(ctx, "j1", []model.JobStatus{model.JobRunning}, model.JobFailed, "boom")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, j.Status)
	assert.Equal(t, "boom", j.Error)
	assert.NotNil(t, j.CompletedAt)

	_, err = m.TransitionJob(ctx, "missing", []model.JobStatus{model.JobPending}, model.JobRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListJobsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		j := newJob(id, base.Add(time.Duration(i)*time.Second))
		if id == "b" {
			j.DatasetID = "ds2"
		}
		require.NoError(t, m.CreateJob(ctx, j))
	}

	all, total, err := m.ListJobs(ctx, model.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, total, err := m.ListJobs(ctx, model.JobFilter{DatasetID: "ds1", Skip: 1, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestMemoryJobResultLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	assert.ErrorIs(t, m.SaveJobResult(ctx, model.JobResult{JobID: "nope"}), ErrNotFound)

	require.NoError(t, m.CreateJob(ctx, newJob("j1", time.Now())))
	require.NoError(t, m.SaveJobResult(ctx, model.JobResult{JobID: "j1", BestFitness: 12.5}))
	r, err := m.GetJobResult(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, r.BestFitness)

	require.NoError(t, m.DeleteJob(ctx, "j1"))
	_, err = m.GetJobResult(ctx, "j1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteJob(ctx, "j1"), ErrNotFound)
}

func TestMemoryDatasetsPagingAndFingerprint(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 3; i++ {
		ds, err := m.CreateDataset(ctx, model.Dataset{DatasetMeta: model.DatasetMeta{Name: "d", Fingerprint: string(rune('x' + i))}})
		require.NoError(t, err)
		ids = append(ids, ds.ID)
	}
	page, next, err := m.ListDatasets(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], next)
	page, next, err = m.ListDatasets(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "", next)

	ds, err := m.FindDatasetByFingerprint(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, ids[1], ds.ID)

	require.NoError(t, m.DeleteDataset(ctx, ids[0]))
	_, err = m.GetDataset(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetDatasetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ds, err := m.CreateDataset(ctx, model.Dataset{Data: model.VRPData{Customers: []model.Customer{{ID: 1, Demand: 3}}}})
	require.NoError(t, err)
	got, err := m.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	got.Data.Customers[0].Demand = 99
	again, _ := m.GetDataset(ctx, ds.ID)
	assert.Equal(t, 3, again.Data.Customers[0].Demand)
}

func TestMemorySubscriptionsForEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{"job.completed"}})
	require.NoError(t, err)
	s2, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{"job.failed", "job.completed"}})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, "job.failed")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, s2.ID, subs[0].ID)

	require.NoError(t, m.DeleteSubscription(ctx, s2.ID))
	subs, _ = m.GetSubscriptionsForEvent(ctx, "job.completed")
	assert.Len(t, subs, 1)
}

func TestCachedDatasetReadThrough(t *testing.T) {
	ctx := context.Background()
	c := NewCached(NewMemory(), time.Minute, 10)
	defer c.Close()

	ds, err := c.CreateDataset(ctx, model.Dataset{DatasetMeta: model.DatasetMeta{Name: "cached"}})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.DeleteDataset(ctx, ds.ID))
	assert.Equal(t, 0, c.Len())
	_, err = c.GetDataset(ctx, ds.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
