package ondevice

import (
	"os"
	"path/filepath"
)

// gpuDevices are device nodes exposed by common GPU compute stacks.
var gpuDevices = []string{"/dev/nvidia0", "/dev/kfd", "/dev/dri/renderD*"}

// HostHasGPU reports whether a GPU compute device node is present.
func HostHasGPU() bool {
	for _, pattern := range gpuDevices {
		matches, err := filepath.Glob(pattern)
		if err == nil && len(matches) > 0 {
			return true
		}
		if _, err := os.Stat(pattern); err == nil {
			return true
		}
	}
	return false
}
