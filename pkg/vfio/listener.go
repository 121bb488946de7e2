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

	"kubevirt.io/client-go/log"

	"kubevirt.io/vfio/pkg/hostmem"
)

const (
	guestPageShift = 12
	guestPageSize  = uint64(1) << guestPageShift
	guestPageMask  = ^(guestPageSize - 1)
)

// memoryListener keeps one container's host IOMMU mappings synchronized with
// the guest layout it is registered against.
type memoryListener struct {
	container *Container
}

// skippedSection reports whether a layout change is irrelevant to the host
// IOMMU: neither RAM nor a guest IOMMU, or in the upper half of the 64-bit
// space. Sizing an enabled 64-bit BAR can place spurious sections up there,
// beyond the address width of some IOMMU hardware.
func skippedSection(section *hostmem.Section) bool {
	return (!section.Region.IsRAM() && !section.Region.IsIOMMU()) ||
		section.OffsetWithinAddressSpace&(uint64(1)<<63) != 0
}

// alignedInterval returns the page-aligned [iova, end) interval covered by
// the section, empty when alignment swallows it.
func alignedInterval(section *hostmem.Section) (uint64, uint64) {
	iova := (section.OffsetWithinAddressSpace + guestPageSize - 1) & guestPageMask
	end := (section.OffsetWithinAddressSpace + section.Size) & guestPageMask
	return iova, end
}

func unalignedSection(section *hostmem.Section) bool {
	return section.OffsetWithinAddressSpace&^guestPageMask !=
		section.OffsetWithinRegion&^guestPageMask
}

func (l *memoryListener) RegionAdd(section *hostmem.Section) {
	c := l.container

	if skippedSection(section) {
		log.Log.V(4).Infof("region add skipped: %s at 0x%x",
			section.Region.Name(), section.OffsetWithinAddressSpace)
		return
	}

	if unalignedSection(section) {
		log.Log.Errorf("region add received unaligned region %s", section.Region.Name())
		return
	}

	iova, end := alignedInterval(section)
	if iova >= end {
		return
	}

	if iova < c.minIOVA || end-1 > c.maxIOVA {
		c.fail(fmt.Errorf("container cannot map guest IOVA region 0x%x..0x%x outside [0x%x, 0x%x]",
			iova, end-1, c.minIOVA, c.maxIOVA))
		return
	}

	section.Region.Ref()

	if section.Region.IsIOMMU() {
		giommu := newGuestIOMMU(c, section.Region,
			section.OffsetWithinAddressSpace-section.OffsetWithinRegion)
		c.giommus = append(c.giommus, giommu)
		section.Region.IOMMU().RegisterNotifier(giommu.notifier)
		section.Region.IOMMU().Replay(giommu.notifier, c.granularity())
		return
	}

	vaddr := section.Region.HostPointer(
		section.OffsetWithinRegion + (iova - section.OffsetWithinAddressSpace))
	readonly := section.ReadOnly || section.Region.ReadOnly()
	if err := c.dmaMap(iova, end-iova, vaddr, readonly); err != nil {
		c.fail(err)
	}
}

func (l *memoryListener) RegionDel(section *hostmem.Section) {
	c := l.container

	if skippedSection(section) {
		log.Log.V(4).Infof("region del skipped: %s at 0x%x",
			section.Region.Name(), section.OffsetWithinAddressSpace)
		return
	}

	if unalignedSection(section) {
		log.Log.Errorf("region del received unaligned region %s", section.Region.Name())
		return
	}

	if section.Region.IsIOMMU() {
		for i, giommu := range c.giommus {
			if giommu.region == section.Region {
				section.Region.IOMMU().UnregisterNotifier(giommu.notifier)
				c.giommus = append(c.giommus[:i], c.giommus[i+1:]...)
				break
			}
		}
		section.Region.Unref()
		return
	}

	iova, end := alignedInterval(section)
	if iova >= end {
		return
	}

	err := c.dmaUnmap(iova, end-iova)
	section.Region.Unref()
	if err != nil {
		log.Log.Reason(err).Errorf("failed to unmap region %s", section.Region.Name())
	}
}
