package config

import "errors"

var (
	ErrReadingConfigFile      = errors.New("failed to read config file")
	ErrUnmarshallingConfig    = errors.New("failed to unmarshal config")
	ErrConfigFileMissing      = errors.New("config file not found")
	ErrUnknownAcquisitionMode = errors.New("unknown acquisition mode")
	ErrEmptyKafkaBrokers      = errors.New("kafka brokers list cannot be empty")
	ErrEmptyKafkaTopic        = errors.New("kafka topic cannot be empty")
	ErrEmptyKafkaGroupID      = errors.New("kafka groupID cannot be empty")
	ErrNoSimulatedChannels    = errors.New("simulated acquisition needs at least one channel")
	ErrInvalidBurstInterval   = errors.New("burst interval max must exceed a positive min")
	ErrInvalidSamplingRate    = errors.New("sampling rate must be positive")
	ErrNonPositiveDuration    = errors.New("event timing durations must be positive")
	ErrInvalidMovingAverage   = errors.New("moving average window must be positive")
	ErrInvalidDetriggerConsec = errors.New("detrigger consecutive sample count must be positive")
	ErrNonPositiveThreshold   = errors.New("trigger and detrigger thresholds must be positive")
	ErrDetriggerAboveTrigger  = errors.New("detrigger threshold must be below trigger threshold")
	ErrInvalidWorkerLimit     = errors.New("maxConcurrentSaves must be positive")
	ErrEmptyOutputDir         = errors.New("storage outputDir cannot be empty")
)
