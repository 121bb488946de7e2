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
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"golang.org/x/sys/unix"

	"kubevirt.io/vfio/pkg/hostmem"
)

var _ = Describe("DMA map engine", func() {
	var fake *fakeKernel
	var container *Container

	BeforeEach(func() {
		fake = newFakeKernel()
		registry := NewRegistry(fake, hostmem.NewAddressSpace("system-memory"))
		group, err := registry.GetGroup(1, registry.sysMem)
		Expect(err).ToNot(HaveOccurred())
		container = group.Container()
	})

	dmaCalls := func() []string {
		var calls []string
		for _, call := range fake.calls {
			if strings.HasPrefix(call, "MapDMA") || strings.HasPrefix(call, "UnmapDMA") {
				calls = append(calls, call[:strings.Index(call, " ")])
			}
		}
		return calls
	}

	It("should map in a single attempt when the host accepts", func() {
		Expect(container.dmaMap(0x1000, 0x1000, uintptr(0xdead000), false)).To(Succeed())
		Expect(dmaCalls()).To(Equal([]string{"MapDMA"}))
		Expect(fake.netMappings(container.fd)).To(HaveKey(uint64(0x1000)))
	})

	It("should unmap the range and retry exactly once on a busy response", func() {
		attempts := 0
		fake.mapDMAFunc = func(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error {
			attempts++
			if attempts == 1 {
				return unix.EBUSY
			}
			return nil
		}
		retriesBefore := testutil.ToFloat64(dmaBusyRetries)

		Expect(container.dmaMap(0x2000, 0x1000, uintptr(0xdead000), false)).To(Succeed())

		Expect(dmaCalls()).To(Equal([]string{"MapDMA", "UnmapDMA", "MapDMA"}))
		Expect(testutil.ToFloat64(dmaBusyRetries) - retriesBefore).To(Equal(1.0))
		Expect(fake.netMappings(container.fd)).To(HaveKey(uint64(0x2000)))
	})

	It("should report the failure when the retry is also refused", func() {
		fake.mapDMAFunc = func(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error {
			return unix.EBUSY
		}

		err := container.dmaMap(0x2000, 0x1000, uintptr(0xdead000), false)
		Expect(err).To(MatchError(ContainSubstring("VFIO_MAP_DMA failed")))
		Expect(dmaCalls()).To(Equal([]string{"MapDMA", "UnmapDMA", "MapDMA"}))
	})

	It("should not retry when the clearing unmap fails", func() {
		fake.mapDMAFunc = func(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error {
			return unix.EBUSY
		}
		fake.unmapDMAFunc = func(containerFD int, iova, size uint64) error {
			return unix.EINVAL
		}

		err := container.dmaMap(0x2000, 0x1000, uintptr(0xdead000), false)
		Expect(err).To(MatchError(ContainSubstring("VFIO_MAP_DMA failed")))
		Expect(dmaCalls()).To(Equal([]string{"MapDMA", "UnmapDMA"}))
	})

	It("should not retry a non-busy failure", func() {
		fake.mapDMAFunc = func(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error {
			return unix.EINVAL
		}

		err := container.dmaMap(0x2000, 0x1000, uintptr(0xdead000), false)
		Expect(err).To(MatchError(ContainSubstring("VFIO_MAP_DMA failed")))
		Expect(dmaCalls()).To(Equal([]string{"MapDMA"}))
	})

	It("should never retry on the no-retry path", func() {
		fake.mapDMAFunc = func(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error {
			return unix.EBUSY
		}

		err := container.dmaMapNoRetry(0x2000, 0x1000, uintptr(0xdead000), false)
		Expect(err).To(MatchError(ContainSubstring("VFIO_MAP_DMA failed")))
		Expect(dmaCalls()).To(Equal([]string{"MapDMA"}))
	})

	It("should wrap unmap failures", func() {
		fake.unmapDMAFunc = func(containerFD int, iova, size uint64) error {
			return unix.EINVAL
		}
		err := container.dmaUnmap(0x2000, 0x1000)
		Expect(err).To(MatchError(ContainSubstring("VFIO_UNMAP_DMA failed")))
	})
})
