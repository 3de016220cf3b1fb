package main

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	commands "groundcontrol/internal/commands/domain"
	"groundcontrol/internal/devicelink"
)

type fakeDevice struct {
	client    *devicelink.Client
	execTime  time.Duration
	failRate  float64
	batchSize int
	start     time.Time
	logger    *log.Logger
}

func main() {
	baseURL := getenvDefault("FAKE_DEVICE_BASE_URL", "http://localhost:8080")
	flightID := getenvDefault("FAKE_DEVICE_FLIGHT_ID", "")
	token := getenvDefault("FAKE_DEVICE_TOKEN", "")
	execMs := getenvIntDefault("FAKE_DEVICE_EXEC_MS", 200)
	telemetryMs := getenvIntDefault("FAKE_DEVICE_TELEMETRY_MS", 500)
	batchSize := getenvIntDefault("FAKE_DEVICE_BATCH", 5)
	failRate := getenvFloatDefault("FAKE_DEVICE_DROP_RATE", 0)
	useCBOR := getenvDefault("FAKE_DEVICE_CBOR", "false") == "true"

	if flightID == "" || token == "" {
		log.Fatal("FAKE_DEVICE_FLIGHT_ID and FAKE_DEVICE_TOKEN are required")
	}

	client, err := devicelink.NewClient(baseURL, flightID, token, devicelink.WithCBOR(useCBOR))
	if err != nil {
		log.Fatalf("device client: %v", err)
	}
	dev := &fakeDevice{
		client:    client,
		execTime:  time.Duration(execMs) * time.Millisecond,
		failRate:  failRate,
		batchSize: batchSize,
		start:     time.Now(),
		logger:    log.Default(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if telemetryMs > 0 {
		go dev.streamTelemetry(ctx, time.Duration(telemetryMs)*time.Millisecond)
	}
	log.Printf("fake device: flight=%s base=%s cbor=%v", flightID, baseURL, useCBOR)
	dev.commandLoop(ctx)
	log.Printf("fake device: stopped")
}

func (d *fakeDevice) commandLoop(ctx context.Context) {
	for ctx.Err() == nil {
		deliveries, err := d.client.NextCommands(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, devicelink.ErrUnauthorized) {
				d.logger.Fatalf("fake device: token rejected")
			}
			d.logger.Printf("fake device: poll: %v", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		refs := make([]commands.Ref, 0, len(deliveries))
		for _, delivery := range deliveries {
			d.logger.Printf("fake device: exec name=%s id=%s args=%s", delivery.Name, delivery.ID, string(delivery.Args))
			sleepCtx(ctx, d.execTime)
			if d.failRate > 0 && rand.Float64() < d.failRate {
				d.logger.Printf("fake device: dropping ack id=%s", delivery.ID)
				continue
			}
			refs = append(refs, commands.Ref{ID: delivery.ID, Name: delivery.Name})
		}
		acked, err := d.client.Ack(ctx, refs)
		if err != nil {
			d.logger.Printf("fake device: ack: %v", err)
			continue
		}
		d.logger.Printf("fake device: acked=%d", len(acked))
	}
}

func (d *fakeDevice) streamTelemetry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries := make([]devicelink.LogEntry, 0, d.batchSize)
			for i := 0; i < d.batchSize; i++ {
				entries = append(entries, d.sample())
			}
			if _, err := d.client.SendLogs(ctx, entries); err != nil && ctx.Err() == nil {
				d.logger.Printf("fake device: send logs: %v", err)
			}
		}
	}
}

func (d *fakeDevice) sample() devicelink.LogEntry {
	elapsed := time.Since(d.start).Seconds()
	return devicelink.LogEntry{
		Sent: time.Now().UnixMilli(),
		Data: map[string]any{
			"altitude": math.Max(0, 40*elapsed-0.5*9.81*elapsed*elapsed/10),
			"pitch":    5 * math.Sin(elapsed),
			"roll":     3 * math.Cos(elapsed/2),
			"battery":  math.Max(0, 12.6-elapsed*0.001),
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
