package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sampleSummary(t *testing.T) *pipeline.RunSummary {
	t.Helper()
	objs := models.NewObjectTable()
	for _, l := range []uint32{1, 2} {
		_, err := objs.Add(l)
		require.NoError(t, err)
		require.NoError(t, objs.SetScalar(l, "area", float64(10*l)))
		require.NoError(t, objs.SetVector(l, "centroid", []float64{0, float64(l), float64(l) + 0.5}))
	}
	require.NoError(t, objs.SetScalar(2, "c0_std", math.NaN()))
	objs.Freeze()

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &pipeline.RunSummary{
		RunID:    "run-1",
		Pipeline: "nuclei",
		Started:  started,
		Finished: started.Add(2 * time.Second),
		Results: []pipeline.ImageResult{
			{
				Index:    0,
				Source:   "a.png",
				ImageID:  "img-a",
				Status:   pipeline.Succeeded,
				Duration: 1500 * time.Millisecond,
				Provenance: []pipeline.ProvenanceEntry{
					{Step: 0, Name: "seg", StageID: "watershed", Category: "segmentation"},
					{Step: 1, Name: "shape", StageID: "shape", Category: "extraction"},
				},
				Objects: objs,
			},
			{
				Index:      1,
				Source:     "b.png",
				ImageID:    "img-b",
				Status:     pipeline.Failed,
				Kind:       "stage",
				FailedStep: 1,
				Stage:      "shape",
				Cause:      "boom",
				Err:        errors.New("boom"),
			},
			{Index: 2, Source: "c.png", Status: pipeline.Skipped},
		},
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	s, path := openTemp(t)
	v, dirty, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	require.NoError(t, s.Close())

	// Reopening an up to date database is not an error.
	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	v, _, err = again.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestSaveRunRoundTrip(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	sum := sampleSummary(t)
	require.NoError(t, s.SaveRun(ctx, sum))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "nuclei", runs[0].Pipeline)
	assert.True(t, runs[0].Started.Equal(sum.Started))
	assert.True(t, runs[0].Finished.Equal(sum.Finished))
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, 1, runs[0].Skipped)
	assert.False(t, runs[0].Cancelled)

	images, err := s.ListImages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, "succeeded", images[0].Status)
	assert.Equal(t, 1500*time.Millisecond, images[0].Duration)
	if diff := cmp.Diff(sum.Results[0].Provenance, images[0].Provenance); diff != "" {
		t.Errorf("provenance mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "failed", images[1].Status)
	assert.Equal(t, "boom", images[1].Cause)
	assert.Equal(t, "shape", images[1].Stage)
	assert.Equal(t, 1, images[1].FailedStep)
	assert.Equal(t, "skipped", images[2].Status)
	assert.Empty(t, images[2].ImageID)

	ms, err := s.Measurements(ctx, "run-1", "a.png")
	require.NoError(t, err)
	byID, err := s.Measurements(ctx, "run-1", "img-a")
	require.NoError(t, err)
	assert.Len(t, byID, len(ms))

	got := map[uint32]map[string]float64{}
	for _, m := range ms {
		if got[m.Label] == nil {
			got[m.Label] = map[string]float64{}
		}
		got[m.Label][m.Name] = m.Value
	}
	assert.Equal(t, 10.0, got[1]["area"])
	assert.Equal(t, 20.0, got[2]["area"])
	assert.Equal(t, 2.0, got[2]["centroid[1]"])
	assert.Equal(t, 2.5, got[2]["centroid[2]"])
	assert.True(t, math.IsNaN(got[2]["c0_std"]))
	_, ok := got[1]["c0_std"]
	assert.False(t, ok)

	for i := 1; i < len(ms); i++ {
		prev, cur := ms[i-1], ms[i]
		assert.True(t, prev.Label < cur.Label || (prev.Label == cur.Label && prev.Name < cur.Name))
	}

	none, err := s.Measurements(ctx, "run-1", "b.png")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveRunReplacesExistingRun(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	sum := sampleSummary(t)
	require.NoError(t, s.SaveRun(ctx, sum))

	sum.Results = sum.Results[:1]
	require.NoError(t, s.SaveRun(ctx, sum))

	images, err := s.ListImages(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, images, 1)
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 0, runs[0].Failed)
}

func TestSaveRunRequiresRunID(t *testing.T) {
	s, _ := openTemp(t)
	assert.Error(t, s.SaveRun(context.Background(), &pipeline.RunSummary{}))
	assert.Error(t, s.SaveRun(context.Background(), nil))
}

func TestFlattenOrdersScalarsBeforeVectors(t *testing.T) {
	objs := models.NewObjectTable()
	_, err := objs.Add(3)
	require.NoError(t, err)
	require.NoError(t, objs.SetVector(3, "bbox", []float64{0, 1}))
	require.NoError(t, objs.SetScalar(3, "perimeter", 4))

	want := []Measurement{
		{Label: 3, Name: "perimeter", Value: 4},
		{Label: 3, Name: "bbox[0]", Value: 0},
		{Label: 3, Name: "bbox[1]", Value: 1},
	}
	if diff := cmp.Diff(want, flatten(objs)); diff != "" {
		t.Errorf("flatten mismatch (-want +got):\n%s", diff)
	}
}
