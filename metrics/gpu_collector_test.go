package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeGPU struct {
	mu     sync.Mutex
	sample GPUMetrics
	err    error
	calls  int
}

func (f *fakeGPU) ReadGPUMetrics(context.Context) (GPUMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return GPUMetrics{}, f.err
	}
	return f.sample, nil
}

func (f *fakeGPU) set(sample GPUMetrics, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample, f.err = sample, err
}

func TestNewGPUCollector_Defaults(t *testing.T) {
	c := NewGPUCollectorWithReader(GPUCollectorConfig{Interval: 10 * time.Millisecond}, &fakeGPU{}, nil, nil)
	if c.config.Interval != 5*time.Second {
		t.Errorf("Interval = %v", c.config.Interval)
	}
	if c.config.HistorySize != 720 || c.config.NvidiaSMIPath != "nvidia-smi" {
		t.Errorf("config = %+v", c.config)
	}
	if _, ok := NewGPUCollector(GPUCollectorConfig{}, nil, nil).reader.(nvidiaSMI); !ok {
		t.Error("default reader should be nvidia-smi")
	}
}

func TestGPUCollector_StartSamplesImmediately(t *testing.T) {
	reader := &fakeGPU{sample: GPUMetrics{Utilization: 42, MemoryTotal: 8 << 30}}
	got := make(chan GPUMetrics, 1)
	c := NewGPUCollectorWithReader(DefaultGPUCollectorConfig(), reader, zaptest.NewLogger(t), func(m GPUMetrics) {
		select {
		case got <- m:
		default:
		}
	})

	c.Start(context.Background())
	defer c.Stop()

	select {
	case m := <-got:
		if m.Utilization != 42 {
			t.Errorf("sample = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample delivered")
	}
	if !c.Available() || c.LastError() != nil {
		t.Errorf("available=%v err=%v", c.Available(), c.LastError())
	}
}

func TestGPUCollector_FailedReadKeepsLastSample(t *testing.T) {
	reader := &fakeGPU{}
	var delivered int
	c := NewGPUCollectorWithReader(GPUCollectorConfig{HistorySize: 2}, reader, zaptest.NewLogger(t), func(GPUMetrics) { delivered++ })
	ctx := context.Background()

	reader.set(GPUMetrics{Utilization: 10}, nil)
	c.collectOnce(ctx)
	reader.set(GPUMetrics{}, errors.New("driver gone"))
	c.collectOnce(ctx)

	if c.Available() {
		t.Error("Available() after failed read")
	}
	if c.LastError() == nil {
		t.Error("LastError() = nil")
	}
	if c.Current().Utilization != 10 {
		t.Errorf("Current() = %+v", c.Current())
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}

	for _, u := range []float64{20, 30} {
		reader.set(GPUMetrics{Utilization: u}, nil)
		c.collectOnce(ctx)
	}
	hist := c.History(10)
	if len(hist) != 2 || hist[0].Utilization != 20 || hist[1].Utilization != 30 {
		t.Errorf("History = %+v", hist)
	}
}

func TestGPUCollector_StopWithoutStart(t *testing.T) {
	c := NewGPUCollectorWithReader(DefaultGPUCollectorConfig(), &fakeGPU{}, nil, nil)
	c.Stop()
}

func TestParseNvidiaSMIOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    GPUMetrics
		wantErr bool
	}{
		{
			name:   "single gpu",
			output: "45, 62, 2048, 8192\n",
			want: GPUMetrics{
				Utilization: 45,
				Temperature: 62,
				MemoryTotal: 8192 << 20,
				MemoryUsed:  2048 << 20,
				MemoryFree:  6144 << 20,
			},
		},
		{
			name:   "first of two gpus",
			output: "10, 40, 100, 1000\n90, 80, 900, 1000\n",
			want: GPUMetrics{
				Utilization: 10,
				Temperature: 40,
				MemoryTotal: 1000 << 20,
				MemoryUsed:  100 << 20,
				MemoryFree:  900 << 20,
			},
		},
		{name: "empty", output: "  \n", wantErr: true},
		{name: "short row", output: "45, 62\n", wantErr: true},
		{name: "not a number", output: "[N/A], 62, 1, 2\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNvidiaSMIOutput(tt.output)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
