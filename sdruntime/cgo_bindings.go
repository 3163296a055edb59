package sdruntime

// SDContext is a handle to a loaded model. The sd build keeps the C
// pointer in a side table keyed by id.
type SDContext struct {
	id        uint64
	modelPath string
	loraDir   string
	opts      Options
	valid     bool
}

// IsValid reports whether the context can still be used.
func (c *SDContext) IsValid() bool {
	return c != nil && c.valid
}

// ModelPath is the model file the context was loaded from.
func (c *SDContext) ModelPath() string {
	if c == nil {
		return ""
	}
	return c.modelPath
}

// Options are the toggles the context was loaded with.
func (c *SDContext) Options() Options {
	if c == nil {
		return Options{}
	}
	return c.opts
}

// GenerateResult is a PNG plus the parameters that produced it.
type GenerateResult struct {
	ImageData []byte
	Width     int
	Height    int
	Seed      int64
}

// LoadModel loads a model file. LoRA tags in later prompts are resolved
// against loraDir. threads <= 0 uses every core.
//
// Errors: ErrModelNotFound, ErrModelLoadFailed.
func LoadModel(modelPath, loraDir string, threads int, opts Options) (*SDContext, error) {
	return loadModelImpl(modelPath, loraDir, threads, opts)
}

// GenerateImage runs txt2img on ctx. A negative params.Seed is replaced
// with a random seed, reported back in the result.
//
// Errors: ErrInvalidParams, ErrInvalidPrompt, ErrGenerationFailed, ErrOutOfVRAM.
func GenerateImage(ctx *SDContext, params GenerateParams) (*GenerateResult, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	params.Seed = ResolveSeed(params.Seed)
	prompt := PromptWithLoRAs(params.Prompt, params.LoRAs)
	return generateImageImpl(ctx, prompt, params)
}

// FreeContext releases ctx. Nil and already freed contexts are ignored.
func FreeContext(ctx *SDContext) {
	freeContextImpl(ctx)
}

// BackendInfo describes the linked compute backend.
func BackendInfo() string {
	return backendInfoImpl()
}
