package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/db"
	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/format"
	qtesting "github.com/cascadegis/geoconv/internal/testing"
	"github.com/cascadegis/geoconv/pipeline"
)

func testSpec(input, output string) pipeline.JobSpec {
	return pipeline.JobSpec{
		Input:        input,
		OutputFormat: format.GeoJSON,
		Output:       output,
	}
}

func TestStoreEnqueueAndClaim(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	job, err := store.Enqueue(testSpec("a.geojson", "out.geojson"))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)

	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, JobStatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)
	assert.Equal(t, "a.geojson", claimed.Spec.Input)

	// Queue is empty now
	next, err := store.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStoreClaimOrderIsFIFO(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	first, err := store.Enqueue(testSpec("first.geojson", "o1.geojson"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = store.Enqueue(testSpec("second.geojson", "o2.geojson"))
	require.NoError(t, err)

	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestStoreCompleteAndFail(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	ok, err := store.Enqueue(testSpec("a.geojson", "o.geojson"))
	require.NoError(t, err)
	require.NoError(t, store.Complete(ok.ID, &pipeline.Result{FeatureCountOutput: 7}))

	got, err := store.Get(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 7, got.Result.FeatureCountOutput)
	assert.NotNil(t, got.FinishedAt)

	bad, err := store.Enqueue(testSpec("b.geojson", "o.geojson"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(bad.ID, errors.Wrap(errors.ErrMalformedData, "broken ring")))

	got, err = store.Get(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "malformed_data", got.ErrorKind)
	assert.Contains(t, got.Error, "broken ring")
}

func TestStoreTimeoutStatus(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	job, err := store.Enqueue(testSpec("a.geojson", "o.geojson"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(job.ID, errors.Wrap(errors.ErrTimeout, "hard budget")))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusTimeout, got.Status)
}

func TestStoreRefusesWhenFull(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 1)

	_, err := store.Enqueue(testSpec("a.geojson", "o.geojson"))
	require.NoError(t, err)

	_, err = store.Enqueue(testSpec("b.geojson", "o.geojson"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResourceExhausted))
}

func TestStoreCancelOnlyQueued(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	job, err := store.Enqueue(testSpec("a.geojson", "o.geojson"))
	require.NoError(t, err)
	require.NoError(t, store.Cancel(job.ID))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, got.Status)

	// A cancelled job cannot be cancelled again
	assert.Error(t, store.Cancel(job.ID))
}

func TestStoreRecoverOrphaned(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	job, err := store.Enqueue(testSpec("a.geojson", "o.geojson"))
	require.NoError(t, err)
	_, err = store.ClaimNext()
	require.NoError(t, err)

	recovered, err := store.RecoverOrphaned()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	store := NewStore(qtesting.CreateTestDB(t), 0)

	dir := t.TempDir()
	input := filepath.Join(dir, "in.geojson")
	require.NoError(t, os.WriteFile(input, []byte(
		`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"name":"a"}}]}`), 0o644))
	output := filepath.Join(dir, "out.geojson")

	cfg := &config.Config{
		Scratch: config.ScratchConfig{Root: dir, MaxBytes: 1 << 30},
		Quality: config.QualityConfig{
			WeightGeometryValidity:      0.30,
			WeightCRSConfidence:         0.20,
			WeightAttributeCompleteness: 0.20,
			WeightSchemaConformance:     0.15,
			WeightDuplicationRatio:      0.15,
		},
		Detect: config.DetectConfig{FallbackEPSG: 4326, SampleSize: 100},
	}
	runner := pipeline.NewRunner(cfg, nil)

	job, err := store.Enqueue(testSpec(input, output))
	require.NoError(t, err)

	pool := NewWorkerPool(context.Background(), store, runner,
		config.QueueConfig{Workers: 1, PollIntervalSeconds: 1}, nil)
	require.NoError(t, pool.Start())

	require.Eventually(t, func() bool {
		got, err := store.Get(job.ID)
		return err == nil && got.Status == JobStatusCompleted
	}, 10*time.Second, 100*time.Millisecond)
	pool.Stop()

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.FeatureCountOutput)
	assert.FileExists(t, output)
}

func TestDrainExitsQuietlyWhenDatabaseClosed(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	store := NewStore(conn, 0)
	require.NoError(t, conn.Close())

	_, err := store.ClaimNext()
	require.Error(t, err)
	assert.True(t, db.IsDatabaseClosed(err))

	pool := NewWorkerPool(context.Background(), store, nil,
		config.QueueConfig{Workers: 1}, nil)
	// A closed connection during shutdown is not a claim failure
	pool.drain(0)
}
