/*
 * This file is part of the KubeVirt project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 * Copyright The KubeVirt Authors.
 *
 */

// Package hostmem models the guest-visible memory layout the passthrough core
// keeps the host IOMMU synchronized with: RAM regions backed by host memory,
// MMIO regions, guest-exposed IOMMUs, and the address spaces composing them.
package hostmem

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Region is one guest memory resource. A region is exactly one of: RAM
// (backed by host-addressable memory), a guest-exposed IOMMU, or plain MMIO.
// Regions are reference counted; the count only gates reclamation, a region
// stays usable while any holder keeps a reference.
type Region struct {
	name     string
	size     uint64
	mem      []byte
	readonly bool
	iommu    *IOMMU
	refs     int64
}

// NewRAMRegion returns a RAM region of the given size backed by host memory.
func NewRAMRegion(name string, size uint64) *Region {
	return &Region{name: name, size: size, mem: make([]byte, size), refs: 1}
}

// NewROMRegion returns a read-only RAM region.
func NewROMRegion(name string, size uint64) *Region {
	r := NewRAMRegion(name, size)
	r.readonly = true
	return r
}

// NewIOMMURegion returns a guest-exposed IOMMU region of the given size.
func NewIOMMURegion(name string, size uint64) *Region {
	return &Region{name: name, size: size, iommu: newIOMMU(), refs: 1}
}

// NewIORegion returns a plain MMIO region with no host backing.
func NewIORegion(name string, size uint64) *Region {
	return &Region{name: name, size: size, refs: 1}
}

func (r *Region) Name() string {
	return r.name
}

func (r *Region) Size() uint64 {
	return r.size
}

func (r *Region) IsRAM() bool {
	return r.mem != nil
}

func (r *Region) IsIOMMU() bool {
	return r.iommu != nil
}

func (r *Region) ReadOnly() bool {
	return r.readonly
}

// IOMMU returns the guest IOMMU state, nil for non-IOMMU regions.
func (r *Region) IOMMU() *IOMMU {
	return r.iommu
}

// Bytes exposes the host backing of a RAM region.
func (r *Region) Bytes() []byte {
	return r.mem
}

// HostPointer returns the host virtual address of the given offset into a RAM
// region's backing memory.
func (r *Region) HostPointer(offset uint64) uintptr {
	if r.mem == nil {
		panic(fmt.Sprintf("hostmem: host pointer requested for non-RAM region %s", r.name))
	}
	return uintptr(unsafe.Pointer(&r.mem[offset]))
}

// Ref takes a reference on the region.
func (r *Region) Ref() {
	atomic.AddInt64(&r.refs, 1)
}

// Unref drops a reference taken with Ref.
func (r *Region) Unref() {
	if atomic.AddInt64(&r.refs, -1) < 0 {
		panic(fmt.Sprintf("hostmem: reference underflow on region %s", r.name))
	}
}

// RefCount returns the current reference count.
func (r *Region) RefCount() int64 {
	return atomic.LoadInt64(&r.refs)
}
