//go:build sd && cgo && !stub

package sdruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../vendor/stable-diffusion.cpp
#cgo LDFLAGS: -L${SRCDIR}/../vendor/stable-diffusion.cpp/build -lstable-diffusion -lsdqueue_shim

#include <stdlib.h>
#include <stdint.h>
#include <stdbool.h>

// Flat shim over stable-diffusion.h, built next to the library. It keeps
// the Go side independent of upstream's parameter structs.
typedef struct sd_ctx_t sd_ctx_t;

extern sd_ctx_t* sdq_load(const char* model_path, const char* lora_dir, int n_threads,
                          bool vae_tiling, bool cpu_offload, bool half_precision);
extern uint8_t* sdq_txt2img(sd_ctx_t* ctx, const char* prompt, const char* negative_prompt,
                            int width, int height, int steps, float cfg_scale, int64_t seed,
                            int* out_width, int* out_height, int* out_status);
extern void sdq_free_image(uint8_t* img);
extern void sdq_free(sd_ctx_t* ctx);
extern const char* sdq_backend_info(void);

// sdq_txt2img status codes.
enum { SDQ_OK = 0, SDQ_ERR_OOM = 1, SDQ_ERR_FAILED = 2 };
*/
import "C"

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// NativeLinked reports whether stable-diffusion.cpp is compiled in.
const NativeLinked = true

var (
	sdContextCounter uint64
	contextsMu       sync.Mutex
	contexts         = make(map[uint64]*C.sd_ctx_t)
)

func loadModelImpl(modelPath, loraDir string, threads int, opts Options) (*SDContext, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, modelStatError(modelPath, err)
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	cModel := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cModel))
	cLoRADir := C.CString(loraDir)
	defer C.free(unsafe.Pointer(cLoRADir))

	cCtx := C.sdq_load(cModel, cLoRADir, C.int(threads),
		C.bool(opts.VAETiling), C.bool(opts.CPUOffload), C.bool(opts.HalfPrecision))
	if cCtx == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelLoadFailed, modelPath)
	}

	id := atomic.AddUint64(&sdContextCounter, 1)
	contextsMu.Lock()
	contexts[id] = cCtx
	contextsMu.Unlock()

	return &SDContext{
		id:        id,
		modelPath: modelPath,
		loraDir:   loraDir,
		opts:      opts,
		valid:     true,
	}, nil
}

func generateImageImpl(ctx *SDContext, prompt string, params GenerateParams) (*GenerateResult, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	contextsMu.Lock()
	cCtx := contexts[ctx.id]
	contextsMu.Unlock()
	if cCtx == nil {
		return nil, fmt.Errorf("%w: no native context for handle %d", ErrGenerationFailed, ctx.id)
	}

	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cNeg := C.CString(params.NegativePrompt)
	defer C.free(unsafe.Pointer(cNeg))

	var outW, outH, status C.int
	pixels := C.sdq_txt2img(cCtx, cPrompt, cNeg,
		C.int(params.Width), C.int(params.Height), C.int(params.Steps),
		C.float(params.CFGScale), C.int64_t(params.Seed),
		&outW, &outH, &status)
	if pixels == nil {
		if status == C.SDQ_ERR_OOM {
			return nil, fmt.Errorf("%w: %dx%d", ErrOutOfVRAM, params.Width, params.Height)
		}
		return nil, fmt.Errorf("%w: txt2img returned no image", ErrGenerationFailed)
	}
	defer C.sdq_free_image(pixels)

	w, h := int(outW), int(outH)
	raw := C.GoBytes(unsafe.Pointer(pixels), C.int(w*h*4))
	data, err := EncodeToPNG(raw, w, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return &GenerateResult{ImageData: data, Width: w, Height: h, Seed: params.Seed}, nil
}

func freeContextImpl(ctx *SDContext) {
	if ctx == nil {
		return
	}
	contextsMu.Lock()
	cCtx, ok := contexts[ctx.id]
	delete(contexts, ctx.id)
	contextsMu.Unlock()
	if ok && cCtx != nil {
		C.sdq_free(cCtx)
	}
	ctx.valid = false
}

func backendInfoImpl() string {
	if info := C.sdq_backend_info(); info != nil {
		return C.GoString(info)
	}
	return "stable-diffusion.cpp"
}
