package registry

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// MemoryProbe reports available system memory. The answer is advisory: it
// can change between the check and the allocation that follows.
type MemoryProbe interface {
	AvailableGB() (float64, error)
}

// SystemMemory reads available memory from the operating system.
type SystemMemory struct{}

// AvailableGB returns the memory available to new allocations, in GiB.
func (SystemMemory) AvailableGB() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return float64(vm.Available) / (1 << 30), nil
}

// FixedMemory reports a constant amount of memory.
type FixedMemory float64

// AvailableGB returns the fixed value.
func (f FixedMemory) AvailableGB() (float64, error) {
	return float64(f), nil
}
