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

// Package vfio manages the host side of device passthrough: containers over
// the host IOMMU, isolation groups, passthrough devices and their regions,
// and the DMA mapping engine keeping host translations synchronized with the
// guest memory layout.
//
// Nothing here is thread-safe; the caller serializes all entry points on the
// machine's control thread.
package vfio

import (
	"kubevirt.io/vfio/pkg/hostmem"
	"kubevirt.io/vfio/pkg/vfio/kernel"
)

// Registry is the process-scoped root of all passthrough state: the open
// groups and the address-space entries with their containers. One Registry
// serves one virtual machine process.
type Registry struct {
	kernel kernel.Interface

	// sysMem is the system memory address space guest IOMMU translations
	// resolve through.
	sysMem *hostmem.AddressSpace

	groups []*Group
	spaces []*AddressSpaceEntry
}

func NewRegistry(k kernel.Interface, sysMem *hostmem.AddressSpace) *Registry {
	return &Registry{kernel: k, sysMem: sysMem}
}

// Groups returns the currently open groups.
func (r *Registry) Groups() []*Group {
	return r.groups
}

// AddressSpaceEntry ties one guest address space to the containers servicing
// it. Entries are shared: they live as long as any container references them.
type AddressSpaceEntry struct {
	as         *hostmem.AddressSpace
	containers []*Container
}

func (e *AddressSpaceEntry) AddressSpace() *hostmem.AddressSpace {
	return e.as
}

func (e *AddressSpaceEntry) Containers() []*Container {
	return e.containers
}

// getAddressSpace returns the entry for as, creating an empty one on first
// use. Repeated gets for the same address space return the same entry.
func (r *Registry) getAddressSpace(as *hostmem.AddressSpace) *AddressSpaceEntry {
	for _, space := range r.spaces {
		if space.as == as {
			return space
		}
	}
	space := &AddressSpaceEntry{as: as}
	r.spaces = append(r.spaces, space)
	return space
}

// putAddressSpace frees the entry iff no container references it anymore.
func (r *Registry) putAddressSpace(space *AddressSpaceEntry) {
	if len(space.containers) > 0 {
		return
	}
	for i, registered := range r.spaces {
		if registered == space {
			r.spaces = append(r.spaces[:i], r.spaces[i+1:]...)
			return
		}
	}
}
