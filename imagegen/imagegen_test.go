package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"

	"sdqueue/jobs"
	"sdqueue/outputs"
	"sdqueue/settings"
)

type fakeBackend struct {
	img *Image
	err error
	got Request
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Generate(ctx context.Context, req Request) (*Image, error) {
	f.got = req
	return f.img, f.err
}

func newPipeline(t *testing.T, b Backend, saveMeta bool) (*Pipeline, *outputs.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := outputs.NewStore(root, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	s := settings.Default()
	s.Output.Directory = "renders"
	s.Output.SaveMetadata = saveMeta
	s.Hardware.VAETiling = true
	st := settings.NewStore(s, "", root, zaptest.NewLogger(t))
	return NewPipeline(b, st, store, zaptest.NewLogger(t)), store
}

func testJob() jobs.Job {
	seed := int64(7)
	return jobs.Job{
		ID:     3,
		Status: jobs.StatusRunning,
		Params: jobs.Params{
			Prompt: "a red fox", Model: "sd.safetensors", Steps: 10,
			GuidanceScale: 5, Width: 64, Height: 64, Seed: &seed,
			LoRAs: []jobs.LoRA{{Path: "ink", Weight: 0.5}},
		},
	}
}

func TestPipeline_PlaceholderRoundTrip(t *testing.T) {
	p, store := newPipeline(t, &PlaceholderBackend{}, true)

	art, err := p.Generate(context.Background(), testJob())
	if err != nil {
		t.Fatal(err)
	}
	if art.Seed != 7 || art.Width != 64 || art.Height != 64 || art.Backend != KindPlaceholder {
		t.Errorf("artifact = %+v", art)
	}
	if filepath.Dir(art.Path) != filepath.Join(store.Root(), "renders") {
		t.Errorf("artifact saved in %s", art.Path)
	}

	raw, err := os.ReadFile(art.Path + outputs.MetadataSuffix)
	if err != nil {
		t.Fatalf("metadata sidecar: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.JobID != 3 || meta.Params.Prompt != "a red fox" || meta.Seed != 7 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestPipeline_PassesRequestThrough(t *testing.T) {
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	fb := &fakeBackend{img: &Image{PNG: buf.Bytes(), Seed: 99}}
	p, _ := newPipeline(t, fb, false)

	art, err := p.Generate(context.Background(), testJob())
	if err != nil {
		t.Fatal(err)
	}
	if fb.got.Seed != 7 || fb.got.Model != "sd.safetensors" || !fb.got.Hardware.VAETiling {
		t.Errorf("request = %+v", fb.got)
	}
	if len(fb.got.LoRAs) != 1 || fb.got.LoRAs[0].Path != "ink" {
		t.Errorf("loras = %+v", fb.got.LoRAs)
	}
	if art.Width != 8 || art.Seed != 99 {
		t.Errorf("artifact = %+v", art)
	}
	if _, err := os.Stat(art.Path + outputs.MetadataSuffix); !os.IsNotExist(err) {
		t.Error("metadata written with save_metadata off")
	}
}

func TestPipeline_Failures(t *testing.T) {
	boom := errors.New("cuda exploded")
	tests := []struct {
		name string
		fb   *fakeBackend
		want error
	}{
		{"backend error", &fakeBackend{err: boom}, boom},
		{"nil image", &fakeBackend{}, ErrEmptyResponse},
		{"not png", &fakeBackend{img: &Image{PNG: []byte("GIF89a-definitely-not-a-png-but-long-enough-to-check")}}, ErrInvalidOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPipeline(t, tt.fb, false)
			if _, err := p.Generate(context.Background(), testJob()); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPlaceholder_DeterministicAndCancellable(t *testing.T) {
	b := &PlaceholderBackend{}
	req := Request{Width: 32, Height: 16, Seed: 1234}
	a, err := b.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := b.Generate(context.Background(), req)
	if !bytes.Equal(a.PNG, c.PNG) {
		t.Error("same seed produced different images")
	}

	slow := &PlaceholderBackend{Delay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Generate(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestOpenAIBackend(t *testing.T) {
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	var got openai.ImageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]string{{"b64_json": encoded}},
		})
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatal(err)
	}
	img, err := b.Generate(context.Background(), Request{Prompt: "fox", NegativePrompt: "blur", Width: 1024, Height: 512})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img.PNG, buf.Bytes()) || img.Seed != -1 {
		t.Errorf("image = %d bytes, seed %d", len(img.PNG), img.Seed)
	}
	if got.Size != openai.CreateImageSize1792x1024 || got.ResponseFormat != openai.CreateImageResponseFormatB64JSON {
		t.Errorf("request = %+v", got)
	}
	if got.Prompt != "fox\nAvoid: blur" {
		t.Errorf("prompt = %q", got.Prompt)
	}
}

func TestNewOpenAIBackend_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIBackend(OpenAIConfig{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestNearestSize(t *testing.T) {
	tests := []struct {
		model string
		w, h  int
		want  string
	}{
		{openai.CreateImageModelDallE3, 512, 512, openai.CreateImageSize1024x1024},
		{openai.CreateImageModelDallE3, 1024, 576, openai.CreateImageSize1792x1024},
		{openai.CreateImageModelDallE3, 640, 768, openai.CreateImageSize1024x1024},
		{openai.CreateImageModelDallE3, 512, 1024, openai.CreateImageSize1024x1792},
		{openai.CreateImageModelDallE2, 128, 256, openai.CreateImageSize256x256},
		{openai.CreateImageModelDallE2, 512, 512, openai.CreateImageSize512x512},
		{openai.CreateImageModelDallE2, 2048, 64, openai.CreateImageSize1024x1024},
	}
	for _, tt := range tests {
		if got := NearestSize(tt.model, tt.w, tt.h); got != tt.want {
			t.Errorf("NearestSize(%s, %d, %d) = %s, want %s", tt.model, tt.w, tt.h, got, tt.want)
		}
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range []string{KindLocal, KindOpenAI, KindPlaceholder} {
		if err := ValidKind(k); err != nil {
			t.Errorf("ValidKind(%s) = %v", k, err)
		}
	}
	if err := ValidKind("comfy"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("ValidKind(comfy) = %v", err)
	}
}
