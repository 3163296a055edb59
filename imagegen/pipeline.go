package imagegen

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sdqueue/jobs"
	"sdqueue/outputs"
	"sdqueue/sdruntime"
	"sdqueue/settings"
)

// Metadata is written next to an artifact when output.save_metadata is on.
type Metadata struct {
	JobID     int64       `json:"job_id"`
	Backend   string      `json:"backend"`
	Seed      int64       `json:"seed"`
	Params    jobs.Params `json:"params"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	ElapsedMS int64       `json:"elapsed_ms"`
	CreatedAt time.Time   `json:"created_at"`
}

// Pipeline runs a backend for a job and stores the result.
type Pipeline struct {
	backend  Backend
	settings *settings.Store
	store    *outputs.Store
	logger   *zap.Logger
}

// NewPipeline wires a backend to the settings and the output store.
func NewPipeline(backend Backend, st *settings.Store, store *outputs.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{backend: backend, settings: st, store: store, logger: logger}
}

// Generate produces the artifact for job. Output location, metadata and
// hardware toggles are read from the settings at call time; the
// generation parameters come from the job.
func (p *Pipeline) Generate(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
	cfg := p.settings.Current()
	dir, err := settings.ResolveDirectory(p.store.Root(), cfg.Output.Directory)
	if err != nil {
		return jobs.Artifact{}, fmt.Errorf("imagegen: output directory: %w", err)
	}

	start := time.Now()
	img, err := p.backend.Generate(ctx, RequestFromParams(job.Params, cfg.Hardware))
	if err != nil {
		return jobs.Artifact{}, err
	}
	if img == nil {
		return jobs.Artifact{}, ErrEmptyResponse
	}
	elapsed := time.Since(start)

	w, h, err := sdruntime.ValidateImageData(img.PNG)
	if err != nil {
		return jobs.Artifact{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	var meta any
	if cfg.Output.SaveMetadata {
		meta = Metadata{
			JobID:     job.ID,
			Backend:   p.backend.Name(),
			Seed:      img.Seed,
			Params:    job.Params,
			Width:     w,
			Height:    h,
			ElapsedMS: elapsed.Milliseconds(),
			CreatedAt: time.Now().UTC(),
		}
	}
	entry, err := p.store.Save(dir, img.PNG, meta)
	if err != nil {
		return jobs.Artifact{}, fmt.Errorf("imagegen: save artifact: %w", err)
	}

	p.logger.Info("artifact saved",
		zap.Int64("job_id", job.ID),
		zap.String("artifact", entry.Name),
		zap.String("backend", p.backend.Name()),
		zap.Duration("elapsed", elapsed))

	return jobs.Artifact{
		Name:      entry.Name,
		Path:      filepath.Join(dir, entry.Name),
		URL:       entry.URL,
		Seed:      img.Seed,
		Width:     w,
		Height:    h,
		Backend:   p.backend.Name(),
		ElapsedMS: elapsed.Milliseconds(),
	}, nil
}
