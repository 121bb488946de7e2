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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// dmaMap installs a host IOMMU translation from iova to vaddr. A busy
// response can be left over from a stale overlapping mapping (seen in
// practice with device ROM windows); the range is unmapped and the map
// retried exactly once before the failure is reported.
func (c *Container) dmaMap(iova, size uint64, vaddr uintptr, readonly bool) error {
	err := c.dmaMapOnce(iova, size, vaddr, readonly)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EBUSY) {
		dmaBusyRetries.Inc()
		if c.registry.kernel.UnmapDMA(c.fd, iova, size) == nil {
			if err = c.dmaMapOnce(iova, size, vaddr, readonly); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("VFIO_MAP_DMA failed for iova 0x%x size 0x%x: %v", iova, size, err)
}

// dmaMapNoRetry is the guest-IOMMU-bridge flavor of dmaMap: busy responses
// are not retried there.
func (c *Container) dmaMapNoRetry(iova, size uint64, vaddr uintptr, readonly bool) error {
	if err := c.dmaMapOnce(iova, size, vaddr, readonly); err != nil {
		return fmt.Errorf("VFIO_MAP_DMA failed for iova 0x%x size 0x%x: %v", iova, size, err)
	}
	return nil
}

func (c *Container) dmaMapOnce(iova, size uint64, vaddr uintptr, readonly bool) error {
	dmaMaps.Inc()
	return c.registry.kernel.MapDMA(c.fd, iova, size, vaddr, readonly)
}

// dmaUnmap removes the translation for the range. Removal is best effort: a
// failure is reported to the caller but never retried, and a failed unmap on
// a range about to be remapped does not block the remap attempt.
func (c *Container) dmaUnmap(iova, size uint64) error {
	dmaUnmaps.Inc()
	if err := c.registry.kernel.UnmapDMA(c.fd, iova, size); err != nil {
		return fmt.Errorf("VFIO_UNMAP_DMA failed for iova 0x%x size 0x%x: %v", iova, size, err)
	}
	return nil
}
