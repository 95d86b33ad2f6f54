package arch

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

// Runner owns the compiled kernels and the device allocations of one
// accelerator adapter
type Runner struct {
	Device  *gocca.OCCADevice
	Kernels map[string]*gocca.OCCAKernel
	// Allocations tracks every live device buffer so Free can release them
	Allocations map[*gocca.OCCAMemory]int64
}

// NewRunner creates a Runner on device
func NewRunner(device *gocca.OCCADevice) *Runner {
	if device == nil {
		panic("arch: NewRunner requires a device")
	}
	return &Runner{
		Device:      device,
		Kernels:     make(map[string]*gocca.OCCAKernel),
		Allocations: make(map[*gocca.OCCAMemory]int64),
	}
}

// Kernel returns a compiled kernel by name, building it from source on first use
func (kr *Runner) Kernel(name string, source func() string) (*gocca.OCCAKernel, error) {
	if k, ok := kr.Kernels[name]; ok {
		return k, nil
	}
	return kr.BuildKernel(source(), name)
}

// BuildKernel compiles and registers a kernel
func (kr *Runner) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	var (
		kernel *gocca.OCCAKernel
		err    error
	)
	if kr.Device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = kr.Device.BuildKernelFromString(kernelSource, kernelName, props)
	} else {
		kernel, err = kr.Device.BuildKernelFromString(kernelSource, kernelName, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel %s built as nil", kernelName)
	}
	kr.Kernels[kernelName] = kernel
	return kernel, nil
}

// Malloc allocates bytes on the device, initialized from src when non-nil
func (kr *Runner) Malloc(bytes int64, src unsafe.Pointer) *gocca.OCCAMemory {
	if bytes == 0 {
		// OCCA rejects empty allocations; keep a one word buffer instead
		bytes = 8
		src = nil
	}
	mem := kr.Device.Malloc(bytes, src, nil)
	kr.Allocations[mem] = bytes
	return mem
}

// Release frees a single allocation
func (kr *Runner) Release(mem *gocca.OCCAMemory) {
	if mem == nil {
		return
	}
	if _, ok := kr.Allocations[mem]; ok {
		delete(kr.Allocations, mem)
		mem.Free()
	}
}

// AllocatedBytes sums the live device allocations
func (kr *Runner) AllocatedBytes() (total int64) {
	for _, b := range kr.Allocations {
		total += b
	}
	return
}

// Free releases kernels and memory
func (kr *Runner) Free() {
	for name, kernel := range kr.Kernels {
		kernel.Free()
		delete(kr.Kernels, name)
	}
	for mem := range kr.Allocations {
		mem.Free()
		delete(kr.Allocations, mem)
	}
}
