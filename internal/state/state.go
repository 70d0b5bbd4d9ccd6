// Package state holds the process-wide shared store used for all
// cross-component visibility. It is split into four independently locked
// partitions (sensor, event, config, system) so that a reader of one
// partition never contends with a writer of another.
package state

import (
	"sync"
	"time"

	"github.com/twinspect/twinspect/internal/config"
	"github.com/twinspect/twinspect/internal/sample"
)

// SensorSnapshot is the externally visible view of the latest sensor tick.
type SensorSnapshot struct {
	LastSampleTime time.Time
	LastValues     []float64
	Kinds          []sample.ChannelKind
	AccelMovingAvg float64
	DispMovingAvg  float64
}

// EventSnapshot is the status surface polled by reporting and telemetry
// consumers.
type EventSnapshot struct {
	Recording       bool
	EventCount      uint64
	CurrentEventID  uint64
	LastTriggerTime time.Time
}

// SystemSnapshot carries informational runtime telemetry. It never affects
// detection behavior.
type SystemSnapshot struct {
	StartTime        time.Time
	MeasuredRate     float64 // Hz, from observed inter-sample periods
	JitterMillis     float64 // std dev of inter-sample periods
	QueueDepth       int     // samples waiting in the acquisition channel
	PendingSaves     int     // events queued or running in the worker pool
	SamplesProcessed uint64
	SamplesDropped   uint64
}

// Store is the shared state container. Construct one with New and pass it
// to every component that needs it; there is no package-level singleton.
type Store struct {
	sensorMu sync.RWMutex
	sensor   SensorSnapshot

	eventMu sync.RWMutex
	event   EventSnapshot

	configMu sync.RWMutex
	config   *config.Config

	systemMu sync.RWMutex
	system   SystemSnapshot
}

func New() *Store {
	return &Store{
		system: SystemSnapshot{StartTime: time.Now()},
	}
}

// SetConfig installs the validated configuration. It is intended to be
// called exactly once at startup; the partition is treated as read-only
// afterwards by convention.
func (s *Store) SetConfig(cfg *config.Config) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config = cfg
}

// Config returns the installed configuration, or nil before SetConfig.
func (s *Store) Config() *config.Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// SetSensor replaces the sensor partition contents.
func (s *Store) SetSensor(snap SensorSnapshot) {
	s.sensorMu.Lock()
	defer s.sensorMu.Unlock()
	s.sensor = snap
}

func (s *Store) Sensor() SensorSnapshot {
	s.sensorMu.RLock()
	defer s.sensorMu.RUnlock()
	return s.sensor
}

func (s *Store) Event() EventSnapshot {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()
	return s.event
}

// SetRecording updates the recording flag together with the current event
// id and last trigger time in one critical section, so pollers never see a
// recording flag without its event id.
func (s *Store) SetRecording(id uint64, triggerTime time.Time) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.event.Recording = true
	s.event.CurrentEventID = id
	s.event.LastTriggerTime = triggerTime
}

// ClearRecording drops the recording flag. The event count is incremented
// only when the closed event was handed off for saving.
func (s *Store) ClearRecording(counted bool) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.event.Recording = false
	s.event.CurrentEventID = 0
	if counted {
		s.event.EventCount++
	}
}

// UpdateSystem applies fn to the system partition under its lock.
func (s *Store) UpdateSystem(fn func(*SystemSnapshot)) {
	s.systemMu.Lock()
	defer s.systemMu.Unlock()
	fn(&s.system)
}

func (s *Store) System() SystemSnapshot {
	s.systemMu.RLock()
	defer s.systemMu.RUnlock()
	return s.system
}
