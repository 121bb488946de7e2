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

package vfio

import (
	"fmt"
	"math/bits"

	"kubevirt.io/client-go/log"

	"kubevirt.io/vfio/pkg/hostmem"
	"kubevirt.io/vfio/pkg/vfio/kernel"
)

// Container is one open host IOMMU connection, shared opportunistically by
// every group the kernel lets us bind to it.
type Container struct {
	registry *Registry
	space    *AddressSpaceEntry
	fd       int

	iommuType uintptr

	// IOVA range the host IOMMU can map, inclusive on both ends.
	minIOVA uint64
	maxIOVA uint64
	// Bitmap of supported IOVA page sizes.
	pgSizes uint64

	groups  []*Group
	giommus []*guestIOMMU

	listener *memoryListener

	// err captures the first mapping failure seen while the listener replays
	// the existing layout during connect, before initialized is set.
	err         error
	initialized bool
}

func (c *Container) Space() *AddressSpaceEntry {
	return c.space
}

func (c *Container) Groups() []*Group {
	return c.groups
}

// granularity returns the smallest IOVA page size the container supports.
func (c *Container) granularity() uint64 {
	return uint64(1) << bits.TrailingZeros64(c.pgSizes)
}

// fail records a mapping failure. During connect the first error is parked
// for the connect path to observe and unwind; once the container serves
// devices a lost mapping cannot be recovered from and the process must not
// continue.
func (c *Container) fail(err error) {
	if !c.initialized {
		if c.err == nil {
			c.err = err
		}
		return
	}
	log.Log.Reason(err).Errorf("DMA mapping failed on running container")
	panic("vfio: DMA mapping failed, unable to continue")
}

// connectContainer binds group to a container servicing as, reusing an
// existing container whenever the kernel accepts the bind, and creating a
// fresh connection otherwise. On any failure the partially built state is
// unwound in reverse order and the captured error returned.
func (r *Registry) connectContainer(group *Group, as *hostmem.AddressSpace) error {
	space := r.getAddressSpace(as)

	for _, container := range space.containers {
		if err := r.kernel.SetGroupContainer(group.fd, container.fd); err == nil {
			group.container = container
			container.groups = append(container.groups, group)
			return nil
		}
	}

	fd, err := r.kernel.OpenContainer()
	if err != nil {
		r.putAddressSpace(space)
		return fmt.Errorf("failed to open %s: %v", kernel.ContainerPath, err)
	}

	fail := func(err error) error {
		if closeErr := r.kernel.Close(fd); closeErr != nil {
			log.Log.Reason(closeErr).Warningf("failed to close container fd %d", fd)
		}
		r.putAddressSpace(space)
		return err
	}

	version, err := r.kernel.APIVersion(fd)
	if err != nil || version != kernel.APIVersion {
		return fail(fmt.Errorf("supported vfio version: %d, reported version: %d (%v)",
			kernel.APIVersion, version, err))
	}

	container := &Container{
		registry: r,
		space:    space,
		fd:       fd,
		minIOVA:  0,
		maxIOVA:  ^uint64(0),
		// Assume just 4 KiB IOVA pages until the host reports better.
		pgSizes: 4096,
	}

	switch {
	case r.kernel.CheckExtension(fd, kernel.Type1IOMMU) ||
		r.kernel.CheckExtension(fd, kernel.Type1v2IOMMU):
		model := kernel.Type1IOMMU
		if r.kernel.CheckExtension(fd, kernel.Type1v2IOMMU) {
			model = kernel.Type1v2IOMMU
		}
		if err := r.kernel.SetGroupContainer(group.fd, fd); err != nil {
			return fail(fmt.Errorf("failed to set group container: %v", err))
		}
		if err := r.kernel.SetIOMMU(fd, model); err != nil {
			return fail(fmt.Errorf("failed to set iommu for container: %v", err))
		}
		container.iommuType = model
		// The type1 interface cannot report its IOVA range; trying the whole
		// 64-bit space works on the hardware seen in practice. Page sizes are
		// advisory, errors here are ignored.
		if info, infoErr := r.kernel.GetIOMMUInfo(fd); infoErr == nil && info.Flags&kernel.IOMMUInfoPgSizes != 0 {
			container.pgSizes = info.PgSizes
		}

	case r.kernel.CheckExtension(fd, kernel.SpaprTCEIOMMU):
		if err := r.kernel.SetGroupContainer(group.fd, fd); err != nil {
			return fail(fmt.Errorf("failed to set group container: %v", err))
		}
		if err := r.kernel.SetIOMMU(fd, kernel.SpaprTCEIOMMU); err != nil {
			return fail(fmt.Errorf("failed to set iommu for container: %v", err))
		}
		if err := r.kernel.EnableIOMMU(fd); err != nil {
			return fail(fmt.Errorf("failed to enable container: %v", err))
		}
		info, infoErr := r.kernel.GetSpaprTCEInfo(fd)
		if infoErr != nil {
			return fail(fmt.Errorf("failed to query the TCE window: %v", infoErr))
		}
		container.iommuType = kernel.SpaprTCEIOMMU
		container.minIOVA = uint64(info.DMA32WindowStart)
		container.maxIOVA = container.minIOVA + uint64(info.DMA32WindowSize) - 1

	default:
		return fail(fmt.Errorf("no available IOMMU models"))
	}

	container.listener = &memoryListener{container: container}
	as.RegisterListener(container.listener)

	if container.err != nil {
		as.UnregisterListener(container.listener)
		return fail(fmt.Errorf("memory listener initialization failed for container: %v", container.err))
	}
	container.initialized = true

	space.containers = append(space.containers, container)
	group.container = container
	container.groups = append(container.groups, group)
	return nil
}

// disconnectContainer unbinds group from its container and, when the last
// group leaves, tears the container down and releases the address-space
// entry.
func (r *Registry) disconnectContainer(group *Group) {
	container := group.container
	if container == nil {
		return
	}

	if err := r.kernel.UnsetGroupContainer(group.fd, container.fd); err != nil {
		log.Log.Reason(err).Errorf("error disconnecting group %d from container", group.id)
	}

	for i, member := range container.groups {
		if member == group {
			container.groups = append(container.groups[:i], container.groups[i+1:]...)
			break
		}
	}
	group.container = nil

	if len(container.groups) > 0 {
		return
	}

	space := container.space
	space.as.UnregisterListener(container.listener)
	for i, registered := range space.containers {
		if registered == container {
			space.containers = append(space.containers[:i], space.containers[i+1:]...)
			break
		}
	}

	for _, giommu := range container.giommus {
		giommu.region.IOMMU().UnregisterNotifier(giommu.notifier)
	}
	container.giommus = nil

	if err := r.kernel.Close(container.fd); err != nil {
		log.Log.Reason(err).Warningf("failed to close container fd %d", container.fd)
	}
	r.putAddressSpace(space)
}
