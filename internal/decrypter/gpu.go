//go:build !gpu

package decrypter

import "errors"

// ErrGPUUnavailable reports that this binary was built without a GPU
// backend (the default). Nothing in this build returns it: when
// Config.GPU is set and gpuAvailable reports false, New logs a warning
// and trial decryption runs on the CPU worker pool.
var ErrGPUUnavailable = errors.New("decrypter: built without GPU support")

// gpuAvailable reports whether this build was compiled with a GPU
// backend (cuda/vulkan/metal — build-tag selected, mirroring
// original_source/src/gpu.rs's `#[cfg(feature = "cuda")]` module
// seams). The stub build is always unavailable.
func gpuAvailable() bool { return false }
