// Package acquisition produces the bounded stream of timestamped samples
// the detector consumes, either from remote acquisition nodes over Kafka
// or from an in-process simulator.
package acquisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/config"
	"github.com/twinspect/twinspect/internal/sample"
)

var (
	ErrInvalidKafkaConfig = errors.New("invalid Kafka configuration provided")
	ErrKafkaFetchFailed   = errors.New("failed to fetch message from Kafka")
)

type kafkaZapLogger struct {
	log *zap.Logger
}

func (l kafkaZapLogger) Printf(msg string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(msg, args...))
}

type kafkaZapErrorLogger struct {
	log *zap.Logger
}

func (l kafkaZapErrorLogger) Printf(msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

// KafkaSource reads JSON-encoded samples from a Kafka topic and feeds the
// detector's sample channel. Undecodable payloads are skipped with a
// logged warning; structural validation of decoded samples is the
// detector's job.
type KafkaSource struct {
	reader *kafka.Reader
	output chan<- sample.Sample
	cfg    config.KafkaConfig
	logger *zap.Logger
}

// NewKafkaSource creates and configures a new Kafka sample source.
func NewKafkaSource(cfg config.KafkaConfig, output chan<- sample.Sample, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		logger.Error("Kafka configuration validation failed",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
			zap.String("group_id", cfg.GroupID),
		)
		return nil, ErrInvalidKafkaConfig
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		Logger:      kafkaZapLogger{logger.Named("kafka-reader").WithOptions(zap.AddCallerSkip(1))},
		ErrorLogger: kafkaZapErrorLogger{logger.Named("kafka-reader-error").WithOptions(zap.AddCallerSkip(1))},
	}
	r := kafka.NewReader(readerCfg)

	logger.Info("Kafka sample source created",
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
		zap.Strings("brokers", cfg.Brokers),
	)

	return &KafkaSource{
		reader: r,
		output: output,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the sample reading loop. It blocks until the context is
// cancelled or an unrecoverable error occurs.
func (s *KafkaSource) Run(ctx context.Context) error {
	sugar := s.logger.Sugar()
	sugar.Info("Starting Kafka sample source loop...")

	defer func() {
		if err := s.reader.Close(); err != nil {
			sugar.Errorw("Failed to close Kafka reader cleanly", zap.Error(err))
		}
		sugar.Info("Kafka sample source stopped.")
	}()

	for {
		// FetchMessage blocks until a message is available or context is cancelled.
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.logger.Debug("Context cancelled, stopping sample fetch loop.", zap.Error(err))
				return context.Canceled
			}
			s.logger.Error("Error fetching message from Kafka", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrKafkaFetchFailed, err)
		}

		smp, err := sample.Decode(m.Value)
		if err != nil {
			sugar.Warnw("Failed to decode sample payload, skipping", zap.Error(err))
			continue
		}

		select {
		case s.output <- smp:

		case <-ctx.Done():
			s.logger.Debug("Context cancelled while sending sample downstream.", zap.Error(ctx.Err()))
			return context.Canceled
		}
	}
}
