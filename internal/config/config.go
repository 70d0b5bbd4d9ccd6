package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultSamplingRate       = 200.0
	defaultPreTriggerDuration = 2 * time.Second
	defaultPostEventTime      = 5 * time.Second
	defaultMinEventDuration   = 1 * time.Second
	defaultMovingAvgWindow    = 100
	defaultDetriggerConsec    = 10
	defaultMaxConcurrentSaves = 2
	defaultAccelTrigger       = 0.3 * 9.81 // m/s^2
	defaultDispTrigger        = 1.0        // mm
	defaultDetriggerRatio     = 0.5
	defaultAcquisitionMode    = "simulated"
	defaultKafkaGroupID       = "twinspect-default-group"
	defaultSimAccelerometers  = 2
	defaultSimLVDTs           = 2
	defaultBurstIntervalMin   = 30 * time.Second
	defaultBurstIntervalMax   = 35 * time.Second
	defaultOutputDir          = "repository"
	defaultCatalogFile        = "events.db"
	defaultMonitorInterval    = 2 * time.Second
	defaultMetricsAddr        = ":9402"
	defaultLogLevel           = "info"
	defaultLogFormat          = "console"
	defaultLogFileEnabled     = false
	defaultLogDirectory       = "log"
	defaultLogFilename        = "twinspect.log"
	defaultLogMaxSizeMB       = 100
	defaultLogMaxBackups      = 3
	defaultLogMaxAgeDays      = 7
	defaultLogCompress        = false

	// Environment variable prefix
	envPrefix = "TWINSPECT"
)

type Config struct {
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Sampling    SamplingConfig    `mapstructure:"sampling"`
	Thresholds  ThresholdConfig   `mapstructure:"thresholds"`
	Workers     WorkerConfig      `mapstructure:"workers"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

type AcquisitionConfig struct {
	Mode      string          `mapstructure:"mode"` // "kafka" or "simulated"
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Simulated SimulatedConfig `mapstructure:"simulated"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"groupID"`
}

type SimulatedConfig struct {
	Accelerometers   int           `mapstructure:"accelerometers"`
	LVDTs            int           `mapstructure:"lvdts"`
	BurstIntervalMin time.Duration `mapstructure:"burstIntervalMin"`
	BurstIntervalMax time.Duration `mapstructure:"burstIntervalMax"`
}

type SamplingConfig struct {
	Rate                float64       `mapstructure:"rate"` // Hz
	PreTriggerDuration  time.Duration `mapstructure:"preTriggerDuration"`
	PostEventTime       time.Duration `mapstructure:"postEventTime"`
	MinEventDuration    time.Duration `mapstructure:"minEventDuration"`
	MovingAverageWindow int           `mapstructure:"movingAverageWindow"` // samples
	DetriggerConsec     int           `mapstructure:"detriggerConsecutive"`
}

// ThresholdConfig holds per-kind trigger and detrigger levels. Trigger is
// compared against instantaneous channel values, detrigger against the
// moving average.
type ThresholdConfig struct {
	Acceleration ChannelThresholds `mapstructure:"acceleration"`
	Displacement ChannelThresholds `mapstructure:"displacement"`
}

type ChannelThresholds struct {
	Trigger   float64 `mapstructure:"trigger"`
	Detrigger float64 `mapstructure:"detrigger"`
}

type WorkerConfig struct {
	MaxConcurrentSaves int `mapstructure:"maxConcurrentSaves"`
}

type StorageConfig struct {
	OutputDir   string `mapstructure:"outputDir"`
	CatalogPath string `mapstructure:"catalogPath"`
}

type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LogConfig struct {
	Level              string `mapstructure:"level"`
	Format             string `mapstructure:"format"`
	FileLoggingEnabled bool   `mapstructure:"fileLoggingEnabled"`
	Directory          string `mapstructure:"directory"`
	Filename           string `mapstructure:"filename"`
	MaxSize            int    `mapstructure:"maxSize"`    // Max size in MB
	MaxBackups         int    `mapstructure:"maxBackups"` // Max backup files
	MaxAge             int    `mapstructure:"maxAge"`     // Max days to retain
	Compress           bool   `mapstructure:"compress"`   // Compress rotated files?
}

// RingCapacity is the number of samples the pre-trigger buffer must hold
// to cover PreTriggerDuration at the configured rate.
func (s SamplingConfig) RingCapacity() int {
	return int(s.PreTriggerDuration.Seconds() * s.Rate)
}

// Load initializes viper, reads config, applies defaults, unmarshals, and validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	configureViper(v, configPath)

	// Set default values before reading config source .yaml
	setDefaults(v)

	// Read configuration from file (error if mandatory file is missing)
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal the configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshallingConfig, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configureViper sets up viper instance for file and environment variables.
func configureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults applies default configuration values using Viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("acquisition.mode", defaultAcquisitionMode)
	v.SetDefault("acquisition.kafka.groupID", defaultKafkaGroupID)
	v.SetDefault("acquisition.simulated.accelerometers", defaultSimAccelerometers)
	v.SetDefault("acquisition.simulated.lvdts", defaultSimLVDTs)
	v.SetDefault("acquisition.simulated.burstIntervalMin", defaultBurstIntervalMin)
	v.SetDefault("acquisition.simulated.burstIntervalMax", defaultBurstIntervalMax)
	v.SetDefault("sampling.rate", defaultSamplingRate)
	v.SetDefault("sampling.preTriggerDuration", defaultPreTriggerDuration)
	v.SetDefault("sampling.postEventTime", defaultPostEventTime)
	v.SetDefault("sampling.minEventDuration", defaultMinEventDuration)
	v.SetDefault("sampling.movingAverageWindow", defaultMovingAvgWindow)
	v.SetDefault("sampling.detriggerConsecutive", defaultDetriggerConsec)
	v.SetDefault("thresholds.acceleration.trigger", defaultAccelTrigger)
	v.SetDefault("thresholds.acceleration.detrigger", defaultAccelTrigger*defaultDetriggerRatio)
	v.SetDefault("thresholds.displacement.trigger", defaultDispTrigger)
	v.SetDefault("thresholds.displacement.detrigger", defaultDispTrigger*defaultDetriggerRatio)
	v.SetDefault("workers.maxConcurrentSaves", defaultMaxConcurrentSaves)
	v.SetDefault("storage.outputDir", defaultOutputDir)
	v.SetDefault("storage.catalogPath", defaultCatalogFile)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", defaultMonitorInterval)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", defaultMetricsAddr)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.fileLoggingEnabled", defaultLogFileEnabled)
	v.SetDefault("log.directory", defaultLogDirectory)
	v.SetDefault("log.filename", defaultLogFilename)
	v.SetDefault("log.maxSize", defaultLogMaxSizeMB)
	v.SetDefault("log.maxBackups", defaultLogMaxBackups)
	v.SetDefault("log.maxAge", defaultLogMaxAgeDays)
	v.SetDefault("log.compress", defaultLogCompress)
}

// readConfigFile attempts to read the configuration file specified in viper.
func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return ErrConfigFileMissing
		}
		return fmt.Errorf("%w: %w", ErrReadingConfigFile, err)
	}
	return nil
}

// Validate rejects configurations that would produce undefined trigger
// behavior. A failed validation is fatal at startup.
func Validate(cfg *Config) error {
	switch cfg.Acquisition.Mode {
	case "kafka":
		if len(cfg.Acquisition.Kafka.Brokers) == 0 {
			return ErrEmptyKafkaBrokers
		}
		if cfg.Acquisition.Kafka.Topic == "" {
			return ErrEmptyKafkaTopic
		}
		if cfg.Acquisition.Kafka.GroupID == "" {
			return ErrEmptyKafkaGroupID
		}
	case "simulated":
		sim := cfg.Acquisition.Simulated
		if sim.Accelerometers <= 0 && sim.LVDTs <= 0 {
			return ErrNoSimulatedChannels
		}
		if sim.BurstIntervalMin <= 0 || sim.BurstIntervalMax <= sim.BurstIntervalMin {
			return ErrInvalidBurstInterval
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAcquisitionMode, cfg.Acquisition.Mode)
	}

	s := cfg.Sampling
	if s.Rate <= 0 {
		return ErrInvalidSamplingRate
	}
	if s.PreTriggerDuration <= 0 || s.PostEventTime <= 0 || s.MinEventDuration <= 0 {
		return ErrNonPositiveDuration
	}
	if s.MovingAverageWindow <= 0 {
		return ErrInvalidMovingAverage
	}
	if s.DetriggerConsec <= 0 {
		return ErrInvalidDetriggerConsec
	}

	for _, th := range []ChannelThresholds{cfg.Thresholds.Acceleration, cfg.Thresholds.Displacement} {
		if th.Trigger <= 0 || th.Detrigger <= 0 {
			return ErrNonPositiveThreshold
		}
		if th.Detrigger >= th.Trigger {
			return ErrDetriggerAboveTrigger
		}
	}

	if cfg.Workers.MaxConcurrentSaves <= 0 {
		return ErrInvalidWorkerLimit
	}
	if cfg.Storage.OutputDir == "" {
		return ErrEmptyOutputDir
	}
	return nil
}
