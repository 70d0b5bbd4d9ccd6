package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/detector"
	"github.com/twinspect/twinspect/internal/sample"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testEvent(id uint64, samples int) *detector.Event {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour)
	ev := &detector.Event{
		ID:          id,
		TriggerTime: base,
		Status:      detector.StatusPendingSave,
	}
	for i := 0; i < samples; i++ {
		ev.Samples = append(ev.Samples, sample.Sample{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Millisecond),
			Values:    []float64{0.4 + float64(i)*0.01, -2.5},
			Kinds:     []sample.ChannelKind{sample.KindAcceleration, sample.KindDisplacement},
		})
	}
	if samples > 0 {
		ev.DetriggerTime = ev.Samples[samples-1].Timestamp
	}
	return ev
}

func TestCatalogInsertAndGet(t *testing.T) {
	c := openTestCatalog(t)

	rec := &EventRecord{
		ID:          1,
		TriggerTime: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		DurationMs:  1500,
		SampleCount: 700,
		PeakAccel:   3.2,
		Status:      string(detector.StatusPendingSave),
		DataPath:    "/data/events/000001_20260314_090000",
	}
	require.NoError(t, c.Insert(rec))

	got, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, 700, got.SampleCount)
	assert.Equal(t, string(detector.StatusPendingSave), got.Status)
}

func TestCatalogGetMissing(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.Get(42)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestCatalogSetEventStatus(t *testing.T) {
	c := openTestCatalog(t)

	require.NoError(t, c.Insert(&EventRecord{ID: 5, Status: string(detector.StatusPendingSave)}))
	require.NoError(t, c.SetEventStatus(5, detector.StatusSaved))

	got, err := c.Get(5)
	require.NoError(t, err)
	assert.Equal(t, string(detector.StatusSaved), got.Status)

	assert.ErrorIs(t, c.SetEventStatus(99, detector.StatusSaved), ErrEventNotFound)
}

func TestCatalogRecordFailureCreatesMissingRow(t *testing.T) {
	c := openTestCatalog(t)

	// Persistence failed before the insert: no row exists yet.
	ev := testEvent(7, 10)
	require.NoError(t, c.RecordFailure(ev, "persistence"))

	rec, err := c.Get(7)
	require.NoError(t, err)
	assert.Equal(t, string(detector.StatusFailed), rec.Status)
	assert.Equal(t, "persistence", rec.FailureStage)
	assert.Equal(t, 10, rec.SampleCount)
	assert.Equal(t, ev.Duration().Milliseconds(), rec.DurationMs)
}

func TestCatalogRecordFailureUpdatesExistingRow(t *testing.T) {
	c := openTestCatalog(t)

	// Analysis failed after the persistence insert.
	ev := testEvent(8, 10)
	require.NoError(t, c.Insert(&EventRecord{
		ID:          8,
		TriggerTime: ev.TriggerTime,
		Status:      string(detector.StatusPendingSave),
		DataPath:    "/data/events/000008_20260314_170000",
	}))
	require.NoError(t, c.RecordFailure(ev, "analysis"))

	rec, err := c.Get(8)
	require.NoError(t, err)
	assert.Equal(t, string(detector.StatusFailed), rec.Status)
	assert.Equal(t, "analysis", rec.FailureStage)
	assert.Equal(t, "/data/events/000008_20260314_170000", rec.DataPath, "raw data location survives the failure")
}

func TestCatalogRecentOrdersByTriggerTime(t *testing.T) {
	c := openTestCatalog(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, 2 * time.Hour, time.Hour} {
		require.NoError(t, c.Insert(&EventRecord{
			ID:          uint64(i + 1),
			TriggerTime: base.Add(offset),
			Status:      string(detector.StatusSaved),
		}))
	}

	recs, err := c.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].ID, "newest first")
	assert.Equal(t, uint64(3), recs[1].ID)
}

func TestSaveEventWritesCSVAndCatalogRow(t *testing.T) {
	dir := t.TempDir()
	c := openTestCatalog(t)
	p, err := NewPersister(dir, 200, c, zap.NewNop())
	require.NoError(t, err)

	ev := testEvent(3, 50)
	require.NoError(t, p.SaveEvent(ev))

	// One directory per event, named by id and trigger stamp.
	evDir := p.EventDir(ev)
	assert.Equal(t, filepath.Join(dir, "events", "000003_20260314_120000"), evDir)

	f, err := os.Open(filepath.Join(evDir, "samples.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 51, "header plus one row per sample")
	assert.Equal(t, []string{"Timestamp", "Expected_Time", "Accel1_Magnitude", "LVDT2_Displacement"}, rows[0])
	assert.Equal(t, "0.000000", rows[1][1])
	assert.Equal(t, "0.005000", rows[2][1], "expected time advances by 1/rate")
	assert.Equal(t, "-2.500000", rows[1][3], "raw values keep their sign")

	rec, err := c.Get(3)
	require.NoError(t, err)
	assert.Equal(t, 50, rec.SampleCount)
	assert.InDelta(t, 0.89, rec.PeakAccel, 1e-9)
	assert.InDelta(t, 2.5, rec.PeakDisp, 1e-9)
	assert.Equal(t, string(detector.StatusPendingSave), rec.Status)
	assert.Equal(t, evDir, rec.DataPath)
}

func TestSaveEventRejectsEmptyWindow(t *testing.T) {
	dir := t.TempDir()
	c := openTestCatalog(t)
	p, err := NewPersister(dir, 200, c, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, p.SaveEvent(testEvent(4, 0)))
}
