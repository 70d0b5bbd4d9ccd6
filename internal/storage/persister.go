package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/detector"
	"github.com/twinspect/twinspect/internal/sample"
)

const (
	eventsSubdir    = "events"
	eventCSVName    = "samples.csv"
	eventDirMode    = 0o755
	timestampLayout = "2006-01-02 15:04:05.000000"
)

// Persister writes each closed event as a CSV sample window under
// <outputDir>/events/<id>_<stamp>/ and registers it in the catalog.
type Persister struct {
	outputDir string
	rate      float64
	catalog   *Catalog
	logger    *zap.Logger
}

func NewPersister(outputDir string, samplingRate float64, catalog *Catalog, logger *zap.Logger) (*Persister, error) {
	dir := filepath.Join(outputDir, eventsSubdir)
	if err := os.MkdirAll(dir, eventDirMode); err != nil {
		return nil, fmt.Errorf("failed to create events directory %q: %w", dir, err)
	}
	return &Persister{
		outputDir: outputDir,
		rate:      samplingRate,
		catalog:   catalog,
		logger:    logger,
	}, nil
}

// SaveEvent writes the event's sample window and inserts its catalog row.
// The raw CSV, once written, is kept even if later analysis fails.
func (p *Persister) SaveEvent(ev *detector.Event) error {
	dir := p.EventDir(ev)
	if err := os.MkdirAll(dir, eventDirMode); err != nil {
		return fmt.Errorf("failed to create event directory %q: %w", dir, err)
	}

	csvPath := filepath.Join(dir, eventCSVName)
	if err := p.writeCSV(csvPath, ev); err != nil {
		return err
	}

	peakAccel, peakDisp := peaks(ev.Samples)
	rec := &EventRecord{
		ID:            ev.ID,
		TriggerTime:   ev.TriggerTime,
		DetriggerTime: ev.DetriggerTime,
		DurationMs:    ev.Duration().Milliseconds(),
		SampleCount:   len(ev.Samples),
		PeakAccel:     peakAccel,
		PeakDisp:      peakDisp,
		Status:        string(detector.StatusPendingSave),
		DataPath:      dir,
	}
	if err := p.catalog.Insert(rec); err != nil {
		return err
	}

	p.logger.Debug("Event data written",
		zap.Uint64("event_id", ev.ID),
		zap.String("path", csvPath),
		zap.Int("samples", len(ev.Samples)),
	)
	return nil
}

// EventDir is the per-event output directory.
func (p *Persister) EventDir(ev *detector.Event) string {
	stamp := ev.TriggerTime.Format("20060102_150405")
	return filepath.Join(p.outputDir, eventsSubdir, fmt.Sprintf("%06d_%s", ev.ID, stamp))
}

// writeCSV lays out one row per sample: wall timestamp, relative time
// expected from the sample index, then one column per channel.
func (p *Persister) writeCSV(path string, ev *detector.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if len(ev.Samples) == 0 {
		return fmt.Errorf("event %d has no samples", ev.ID)
	}

	header := []string{"Timestamp", "Expected_Time"}
	for i, kind := range ev.Samples[0].Kinds {
		header = append(header, columnName(kind, i))
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	step := 1.0 / p.rate
	for i, s := range ev.Samples {
		row := make([]string, 0, len(header))
		row = append(row,
			s.Timestamp.Format(timestampLayout),
			strconv.FormatFloat(float64(i)*step, 'f', 6, 64),
		)
		for _, v := range s.Values {
			row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func columnName(kind sample.ChannelKind, i int) string {
	switch kind {
	case sample.KindAcceleration:
		return fmt.Sprintf("Accel%d_Magnitude", i+1)
	case sample.KindDisplacement:
		return fmt.Sprintf("LVDT%d_Displacement", i+1)
	}
	return fmt.Sprintf("Channel%d", i+1)
}

func peaks(samples []sample.Sample) (peakAccel, peakDisp float64) {
	for _, s := range samples {
		for i, k := range s.Kinds {
			v := s.Magnitude(i)
			switch k {
			case sample.KindAcceleration:
				if v > peakAccel {
					peakAccel = v
				}
			case sample.KindDisplacement:
				if v > peakDisp {
					peakDisp = v
				}
			}
		}
	}
	return peakAccel, peakDisp
}
