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
	"kubevirt.io/client-go/log"

	"kubevirt.io/vfio/pkg/hostmem"
)

// guestIOMMU bridges one guest-exposed IOMMU region into a container:
// translation updates published by the guest IOMMU become host DMA map and
// unmap calls.
type guestIOMMU struct {
	container *Container
	region    *hostmem.Region
	notifier  *hostmem.Notifier

	// offset shifts region-relative translation IOVAs to where the region
	// sits in the listened address space.
	offset uint64
}

func newGuestIOMMU(c *Container, region *hostmem.Region, offset uint64) *guestIOMMU {
	g := &guestIOMMU{container: c, region: region, offset: offset}
	g.notifier = &hostmem.Notifier{Notify: g.mapNotify}
	return g
}

// mapNotify handles one translation update. The entry only covers the
// translation through the guest IOMMU to its immediate target; the target is
// translated the rest of the way to host memory through the system address
// space, under its read-side lock.
func (g *guestIOMMU) mapNotify(entry hostmem.TLBEntry) {
	c := g.container
	size := entry.AddrMask + 1
	iova := entry.IOVA + g.offset

	target, xlat, avail, err := c.registry.sysMem.Translate(
		entry.TranslatedAddr, entry.Perm&hostmem.PermWrite != 0)
	if err != nil || !target.IsRAM() {
		log.Log.Errorf("guest iommu maps to non memory area 0x%x", entry.TranslatedAddr)
		return
	}

	// Translation truncates to what the target section can provide. A length
	// with low mask bits set means the host cannot honor the granularity the
	// guest IOMMU promised.
	if avail&entry.AddrMask != 0 {
		log.Log.Errorf("guest iommu has granularity incompatible with target address space")
		return
	}

	if entry.Perm != hostmem.PermNone {
		vaddr := target.HostPointer(xlat)
		readonly := entry.Perm&hostmem.PermWrite == 0 || target.ReadOnly()
		if err := c.dmaMapNoRetry(iova, size, vaddr, readonly); err != nil {
			log.Log.Reason(err).Errorf("guest iommu map failed at iova 0x%x", iova)
		}
		return
	}

	if err := c.dmaUnmap(iova, size); err != nil {
		log.Log.Reason(err).Errorf("guest iommu unmap failed at iova 0x%x", iova)
	}
}
