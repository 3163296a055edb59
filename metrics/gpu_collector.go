package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// GPUReader reads one GPU sample.
type GPUReader interface {
	ReadGPUMetrics(ctx context.Context) (GPUMetrics, error)
}

// GPUCollectorConfig configures a GPUCollector.
type GPUCollectorConfig struct {
	// Interval is how often to sample. Values under a second are raised.
	Interval time.Duration

	// HistorySize is the number of samples kept (720 = 1 hour at 5s).
	HistorySize int

	// NvidiaSMIPath defaults to "nvidia-smi" on PATH.
	NvidiaSMIPath string
}

// DefaultGPUCollectorConfig returns a default configuration.
func DefaultGPUCollectorConfig() GPUCollectorConfig {
	return GPUCollectorConfig{
		Interval:      5 * time.Second,
		HistorySize:   720,
		NvidiaSMIPath: "nvidia-smi",
	}
}

// GPUCollector samples the GPU periodically and hands each successful
// sample to onSample.
type GPUCollector struct {
	mu sync.RWMutex

	config GPUCollectorConfig
	reader GPUReader
	logger *zap.Logger

	history  []GPUMetrics
	histHead int
	histSize int

	last      GPUMetrics
	available bool
	lastError error

	onSample func(GPUMetrics)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGPUCollector creates a collector that reads nvidia-smi. A nil
// reader in NewGPUCollectorWithReader has the same effect.
func NewGPUCollector(cfg GPUCollectorConfig, logger *zap.Logger, onSample func(GPUMetrics)) *GPUCollector {
	return NewGPUCollectorWithReader(cfg, nil, logger, onSample)
}

// NewGPUCollectorWithReader creates a collector with a custom reader.
func NewGPUCollectorWithReader(cfg GPUCollectorConfig, reader GPUReader, logger *zap.Logger, onSample func(GPUMetrics)) *GPUCollector {
	def := DefaultGPUCollectorConfig()
	if cfg.Interval < time.Second {
		cfg.Interval = def.Interval
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.NvidiaSMIPath == "" {
		cfg.NvidiaSMIPath = def.NvidiaSMIPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &GPUCollector{
		config:   cfg,
		reader:   reader,
		logger:   logger,
		history:  make([]GPUMetrics, cfg.HistorySize),
		onSample: onSample,
	}
	if c.reader == nil {
		c.reader = nvidiaSMI{path: cfg.NvidiaSMIPath}
	}
	return c
}

// Start samples once immediately, then every Interval until Stop or ctx
// ends.
func (c *GPUCollector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts sampling and waits for the loop to exit.
func (c *GPUCollector) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Available reports whether the last read succeeded.
func (c *GPUCollector) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// LastError returns the error of the last read, nil after a success.
func (c *GPUCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Current returns the latest successful sample.
func (c *GPUCollector) Current() GPUMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// History returns up to limit of the latest samples, oldest first.
func (c *GPUCollector) History(limit int) []GPUMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit <= 0 || c.histSize == 0 {
		return []GPUMetrics{}
	}
	if limit > c.histSize {
		limit = c.histSize
	}
	n := len(c.history)
	out := make([]GPUMetrics, limit)
	for i := 0; i < limit; i++ {
		out[i] = c.history[(c.histHead-limit+i+n)%n]
	}
	return out
}

func (c *GPUCollector) loop(ctx context.Context) {
	defer c.wg.Done()

	c.collectOnce(ctx)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *GPUCollector) collectOnce(ctx context.Context) {
	sample, err := c.reader.ReadGPUMetrics(ctx)
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	wasAvailable := c.available
	if err != nil {
		// Keep the last good sample; failed reads stay out of history.
		c.available = false
		c.lastError = err
	} else {
		c.available = true
		c.lastError = nil
		c.last = sample
		c.history[c.histHead] = sample
		c.histHead = (c.histHead + 1) % len(c.history)
		if c.histSize < len(c.history) {
			c.histSize++
		}
	}
	c.mu.Unlock()

	switch {
	case err != nil && wasAvailable:
		c.logger.Warn("GPU metrics unavailable", zap.Error(err))
	case err != nil:
		c.logger.Debug("GPU read failed", zap.Error(err))
	case !wasAvailable:
		c.logger.Info("GPU metrics available",
			zap.String("memory_total", humanize.IBytes(uint64(sample.MemoryTotal))),
			zap.String("memory_free", humanize.IBytes(uint64(sample.MemoryFree))))
	}

	if err == nil && c.onSample != nil {
		c.onSample(sample)
	}
}

// nvidiaSMI reads the first GPU through the nvidia-smi CLI.
type nvidiaSMI struct {
	path string
}

func (n nvidiaSMI) ReadGPUMetrics(ctx context.Context) (GPUMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, n.path,
		"--query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return GPUMetrics{}, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	sample, err := parseNvidiaSMIOutput(stdout.String())
	if err != nil {
		return GPUMetrics{}, err
	}
	sample.SampledAt = time.Now()
	return sample, nil
}

// parseNvidiaSMIOutput parses the first CSV row: utilization (%),
// temperature (C), memory used (MiB), memory total (MiB).
func parseNvidiaSMIOutput(output string) (GPUMetrics, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return GPUMetrics{}, fmt.Errorf("empty nvidia-smi output")
	}

	record, err := csv.NewReader(strings.NewReader(output)).Read()
	if err != nil {
		return GPUMetrics{}, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(record) < 4 {
		return GPUMetrics{}, fmt.Errorf("unexpected field count: got %d, expected 4", len(record))
	}

	names := [4]string{"utilization", "temperature", "memory used", "memory total"}
	var vals [4]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return GPUMetrics{}, fmt.Errorf("failed to parse %s: %w", names[i], err)
		}
		vals[i] = v
	}

	total := int64(vals[3] * humanize.MiByte)
	used := int64(vals[2] * humanize.MiByte)
	return GPUMetrics{
		Utilization: vals[0],
		Temperature: vals[1],
		MemoryTotal: total,
		MemoryUsed:  used,
		MemoryFree:  total - used,
	}, nil
}
