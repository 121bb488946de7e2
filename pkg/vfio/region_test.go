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

	"golang.org/x/sys/unix"

	"kubevirt.io/vfio/pkg/hostmem"
	"kubevirt.io/vfio/pkg/vfio/kernel"
)

var _ = Describe("Device region", func() {
	const deviceName = "0000:00:02.0"

	var fake *fakeKernel
	var ops *fakeOps
	var device *Device

	BeforeEach(func() {
		fake = newFakeKernel()
		fake.addDevice(deviceName,
			kernel.DeviceInfo{
				Flags:      kernel.DeviceFlagsReset | kernel.DeviceFlagsPCI,
				NumRegions: 3,
				NumIRQs:    1,
			},
			map[uint32]kernel.RegionInfo{
				0: {
					Index:  0,
					Flags:  kernel.RegionInfoFlagRead | kernel.RegionInfoFlagWrite | kernel.RegionInfoFlagMmap,
					Size:   0x4000,
					Offset: 0x10000,
				},
				1: {
					Index:  1,
					Flags:  kernel.RegionInfoFlagRead | kernel.RegionInfoFlagWrite,
					Size:   0x1000,
					Offset: 0x20000,
				},
				2: {
					Index:  2,
					Flags:  kernel.RegionInfoFlagRead | kernel.RegionInfoFlagMmap,
					Size:   0x800,
					Offset: 0x30000,
				},
			})

		registry := NewRegistry(fake, hostmem.NewAddressSpace("system-memory"))
		group, err := registry.GetGroup(1, registry.sysMem)
		Expect(err).ToNot(HaveOccurred())

		ops = &fakeOps{}
		device, err = group.GetDevice(deviceName, ops)
		Expect(err).ToNot(HaveOccurred())
	})

	munmapCount := func() int {
		count := 0
		for _, call := range fake.calls {
			if strings.HasPrefix(call, "Munmap") {
				count++
			}
		}
		return count
	}

	Context("setup", func() {
		It("should give a mappable region one window spanning it", func() {
			region, err := device.RegionSetup(0, "bar0")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Size()).To(Equal(uint64(0x4000)))
			Expect(region.Windows()).To(HaveLen(1))
			Expect(region.Windows()[0].Active()).To(BeFalse())
		})

		It("should give a trapped-only region no windows", func() {
			region, err := device.RegionSetup(1, "bar1")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Windows()).To(BeEmpty())
		})

		It("should not map a region whose size breaks page alignment", func() {
			region, err := device.RegionSetup(2, "rom")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Windows()).To(BeEmpty())
		})

		It("should honor the device-wide mmap disable", func() {
			device.DisableMmap()
			region, err := device.RegionSetup(0, "bar0")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Windows()).To(BeEmpty())
		})
	})

	Context("direct mapping", func() {
		It("should attach every window", func() {
			region, err := device.RegionSetup(0, "bar0")
			Expect(err).ToNot(HaveOccurred())

			Expect(region.Mmap()).To(Succeed())
			Expect(region.Windows()[0].Active()).To(BeTrue())
			Expect(region.Windows()[0].Bytes()).To(HaveLen(0x4000))
		})

		It("should unwind already mapped windows when one fails", func() {
			region := &Region{
				device:   device,
				name:     "bar0",
				size:     0x3000,
				fdOffset: 0x10000,
				flags:    kernel.RegionInfoFlagRead | kernel.RegionInfoFlagWrite,
				windows: []*MmapWindow{
					{offset: 0, size: 0x1000, enabled: true},
					{offset: 0x1000, size: 0x1000, enabled: true},
					{offset: 0x2000, size: 0x1000, enabled: true},
				},
			}

			mmaps := 0
			fake.mmapFunc = func(deviceFD int, offset, size uint64, prot int) ([]byte, error) {
				mmaps++
				if mmaps == 3 {
					return nil, unix.ENOMEM
				}
				return make([]byte, size), nil
			}

			err := region.Mmap()
			Expect(err).To(MatchError(ContainSubstring("failed to mmap")))
			Expect(munmapCount()).To(Equal(2))
			for _, win := range region.windows {
				Expect(win.Active()).To(BeFalse())
				Expect(win.Bytes()).To(BeNil())
			}
		})

		It("should quiesce on exit but keep the memory", func() {
			region, err := device.RegionSetup(0, "bar0")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Mmap()).To(Succeed())

			region.Exit()

			Expect(region.Windows()[0].Active()).To(BeFalse())
			Expect(region.Windows()[0].Bytes()).ToNot(BeNil())
		})

		It("should release the memory and the region on finalize", func() {
			region, err := device.RegionSetup(0, "bar0")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Mmap()).To(Succeed())

			region.Finalize()

			Expect(munmapCount()).To(Equal(1))
			Expect(region.Windows()[0].Bytes()).To(BeNil())
			Expect(device.regions).To(BeEmpty())
		})

		It("should toggle the fast path without touching the mapping", func() {
			region, err := device.RegionSetup(0, "bar0")
			Expect(err).ToNot(HaveOccurred())
			Expect(region.Mmap()).To(Succeed())

			region.SetMmapsEnabled(false)
			Expect(region.Windows()[0].Active()).To(BeFalse())
			Expect(region.Windows()[0].Bytes()).ToNot(BeNil())

			region.SetMmapsEnabled(true)
			Expect(region.Windows()[0].Active()).To(BeTrue())
		})
	})

	Context("trapped access", func() {
		var region *Region

		BeforeEach(func() {
			var err error
			region, err = device.RegionSetup(1, "bar1")
			Expect(err).ToNot(HaveOccurred())
		})

		It("should round-trip little-endian values of every width", func() {
			Expect(region.Write(0x10, 4, 0x12345678)).To(Succeed())
			Expect(fake.deviceData[device.FD()][0x20010:0x20014]).To(
				Equal([]byte{0x78, 0x56, 0x34, 0x12}))

			value, err := region.Read(0x10, 4)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal(uint64(0x12345678)))

			Expect(region.Write(0x20, 2, 0xbeef)).To(Succeed())
			value, err = region.Read(0x20, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal(uint64(0xbeef)))

			Expect(region.Write(0x30, 1, 0xab)).To(Succeed())
			value, err = region.Read(0x30, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal(uint64(0xab)))
		})

		It("should complete the pending interrupt after every access", func() {
			Expect(region.Write(0x10, 4, 1)).To(Succeed())
			_, err := region.Read(0x10, 4)
			Expect(err).ToNot(HaveOccurred())
			Expect(ops.eoiCalls).To(Equal(2))
		})

		It("should complete the pending interrupt even when the access fails", func() {
			fake.preadFunc = func(deviceFD int, buf []byte, offset uint64) (int, error) {
				return 0, unix.EIO
			}
			_, err := region.Read(0x10, 4)
			Expect(err).To(HaveOccurred())
			Expect(ops.eoiCalls).To(Equal(1))
		})

		It("should report short transfers as errors", func() {
			fake.pwriteFunc = func(deviceFD int, buf []byte, offset uint64) (int, error) {
				return 1, nil
			}
			err := region.Write(0x10, 4, 1)
			Expect(err).To(MatchError(ContainSubstring("1 bytes written")))
		})

		It("should reject unsupported access widths", func() {
			Expect(func() { _, _ = region.Read(0x10, 8) }).To(Panic())
			Expect(func() { _ = region.Write(0x10, 3, 0) }).To(Panic())
		})
	})
})
