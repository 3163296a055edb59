// Package sdruntime runs Stable Diffusion locally through stable-diffusion.cpp.
//
// A Runtime owns at most one loaded model context. Every call into the C
// library is serialized on that context because the GPU cannot be shared
// between concurrent sampling runs. Switching models unloads the previous
// context first.
//
// # Build modes
//
// The default build links no native code: LoadModel checks the model file
// and GenerateImage returns ErrGenerationFailed. Building with the "sd" tag
// links the real library through a small C shim:
//
//	CGO_CFLAGS="-I${SD_CPP_PATH}" \
//	CGO_LDFLAGS="-L${SD_CPP_PATH}/build -lstable-diffusion -lsdqueue_shim" \
//	go build -tags sd
//
// # LoRA adapters
//
// stable-diffusion.cpp applies adapters named in the prompt with
// <lora:name:weight> tags and looks them up in a single directory. The
// runtime checks every requested adapter exists under Config.LoRADir
// before sampling starts.
//
// # Environment
//
//	SD_MODELS_DIR       directory holding model files (default "models")
//	SD_LORA_DIR         directory holding LoRA files (default "<models>/lora")
//	SD_THREADS          CPU threads for the runtime, 0 = all cores
//	SD_VERIFY_CHECKSUM  verify known model checksums before loading
package sdruntime
