package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/twinspect/twinspect/internal/sample"
)

var (
	broker = flag.String("broker", "localhost:9092", "Kafka broker address")
	topic  = flag.String("topic", "sensor-samples", "Kafka topic to publish samples to")
	rate   = flag.Float64("rate", 100.0, "Sampling rate in Hz")
	accels = flag.Int("accels", 2, "Number of acceleration channels")
	lvdts  = flag.Int("lvdts", 2, "Number of displacement channels")
)

// Waveform parameters for the synthetic structure: a quiet noise floor
// with occasional shaking bursts, and slow swaying on the displacement
// channels.
const (
	noiseAmp      = 0.02
	burstAmp      = 4.0
	burstEvery    = 30 * time.Second
	burstDuration = 5 * time.Second
	dispAmp       = 5.0
	dispFreq      = 0.1
	dispNoise     = 0.1
)

func main() {
	flag.Parse()

	writer := &kafka.Writer{
		Addr:     kafka.TCP(*broker),
		Topic:    *topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Fatalf("Error closing kafka writer: %v", err)
		}
	}()
	log.Printf("Starting synthetic sampler for topic: %s on broker: %s at %.1f Hz", *topic, *broker, *rate)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		log.Println("Shutdown signal received, stopping sampler...")
		cancel()
	}()

	period := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()

	for {
		select {
		case now := <-ticker.C:
			smp := generateSample(rng, start, now, *accels, *lvdts)
			payload, err := sample.Encode(smp)
			if err != nil {
				log.Printf("Error encoding sample: %v", err)
				continue
			}

			if err := writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
				if ctx.Err() != nil { // Check if context was cancelled (shutdown)
					log.Println("Context cancelled, exiting sample loop.")
					return
				}
				log.Printf("Error writing sample: %v", err)
			}

		case <-ctx.Done():
			log.Println("Sampler loop stopped.")
			return
		}
	}
}

// generateSample produces one multi-channel reading for the given instant.
func generateSample(rng *rand.Rand, start, now time.Time, accels, lvdts int) sample.Sample {
	t := now.Sub(start).Seconds()
	bursting := math.Mod(t, burstEvery.Seconds()) < burstDuration.Seconds()

	values := make([]float64, 0, accels+lvdts)
	kinds := make([]sample.ChannelKind, 0, accels+lvdts)

	for i := 0; i < accels; i++ {
		v := noiseAmp*math.Abs(math.Sin(2*math.Pi*50*t+float64(i))) +
			math.Abs(rng.NormFloat64())*noiseAmp
		if bursting {
			v += burstAmp * math.Abs(math.Sin(2*math.Pi*2.0*t+float64(i)))
		}
		values = append(values, v)
		kinds = append(kinds, sample.KindAcceleration)
	}

	for i := 0; i < lvdts; i++ {
		phase := float64(i) * math.Pi / 4
		v := dispAmp*math.Sin(2*math.Pi*dispFreq*t+phase) + rng.NormFloat64()*dispNoise
		values = append(values, v)
		kinds = append(kinds, sample.KindDisplacement)
	}

	return sample.Sample{Timestamp: now, Values: values, Kinds: kinds}
}
