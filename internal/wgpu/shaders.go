// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
)

//go:embed shaders/jacobi.wgsl
var jacobiShaderSource string

// Workgroup shape of jacobi.wgsl.
const (
	groupX = 32
	groupY = 4
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// jacobiSPIRV compiles the stencil shader once per process.
var jacobiSPIRV = sync.OnceValues(func() ([]uint32, error) {
	return compileSPIRV(jacobiShaderSource)
})

// compileSPIRV compiles WGSL source to SPIR-V words.
func compileSPIRV(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("compile shader: SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words.
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	if len(code) == 0 || code[0] != spirvMagic {
		return nil, fmt.Errorf("compile shader: output is not a SPIR-V module")
	}
	return code, nil
}
