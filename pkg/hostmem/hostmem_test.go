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

package hostmem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingListener struct {
	added   []*Section
	removed []*Section
}

func (l *recordingListener) RegionAdd(s *Section) {
	l.added = append(l.added, s)
}

func (l *recordingListener) RegionDel(s *Section) {
	l.removed = append(l.removed, s)
}

var _ = Describe("Region", func() {
	It("should classify the region kinds", func() {
		ram := NewRAMRegion("ram", 0x1000)
		Expect(ram.IsRAM()).To(BeTrue())
		Expect(ram.IsIOMMU()).To(BeFalse())
		Expect(ram.ReadOnly()).To(BeFalse())

		rom := NewROMRegion("rom", 0x1000)
		Expect(rom.IsRAM()).To(BeTrue())
		Expect(rom.ReadOnly()).To(BeTrue())

		iommu := NewIOMMURegion("iommu", 0x1000)
		Expect(iommu.IsRAM()).To(BeFalse())
		Expect(iommu.IsIOMMU()).To(BeTrue())
		Expect(iommu.IOMMU()).ToNot(BeNil())

		mmio := NewIORegion("mmio", 0x1000)
		Expect(mmio.IsRAM()).To(BeFalse())
		Expect(mmio.IsIOMMU()).To(BeFalse())
	})

	It("should resolve host pointers into the backing memory", func() {
		ram := NewRAMRegion("ram", 0x1000)
		ram.Bytes()[0x10] = 0xab
		Expect(ram.HostPointer(0x10) - ram.HostPointer(0)).To(Equal(uintptr(0x10)))
	})

	It("should refuse host pointers for regions without backing", func() {
		mmio := NewIORegion("mmio", 0x1000)
		Expect(func() { mmio.HostPointer(0) }).To(Panic())
	})

	It("should count references and catch underflow", func() {
		ram := NewRAMRegion("ram", 0x1000)
		Expect(ram.RefCount()).To(Equal(int64(1)))

		ram.Ref()
		Expect(ram.RefCount()).To(Equal(int64(2)))

		ram.Unref()
		ram.Unref()
		Expect(ram.RefCount()).To(BeZero())
		Expect(func() { ram.Unref() }).To(Panic())
	})
})

var _ = Describe("AddressSpace", func() {
	var as *AddressSpace
	var ram *Region

	BeforeEach(func() {
		as = NewAddressSpace("test")
		ram = NewRAMRegion("ram", 0x4000)
	})

	It("should notify listeners of layout changes", func() {
		listener := &recordingListener{}
		as.RegisterListener(listener)

		section := &Section{Region: ram, OffsetWithinAddressSpace: 0x1000, Size: 0x4000}
		as.AddSection(section)
		Expect(listener.added).To(ConsistOf(section))

		as.RemoveSection(section)
		Expect(listener.removed).To(ConsistOf(section))
	})

	It("should replay the current layout to a new listener", func() {
		first := &Section{Region: ram, OffsetWithinAddressSpace: 0, Size: 0x1000}
		second := &Section{Region: ram, OffsetWithinRegion: 0x1000, OffsetWithinAddressSpace: 0x2000, Size: 0x1000}
		as.AddSection(first)
		as.AddSection(second)

		listener := &recordingListener{}
		as.RegisterListener(listener)

		Expect(listener.added).To(Equal([]*Section{first, second}))
	})

	It("should stop notifying an unregistered listener", func() {
		listener := &recordingListener{}
		as.RegisterListener(listener)
		as.UnregisterListener(listener)

		as.AddSection(&Section{Region: ram, Size: 0x1000})
		Expect(listener.added).To(BeEmpty())
	})

	It("should ignore removal of sections it does not hold", func() {
		listener := &recordingListener{}
		as.RegisterListener(listener)

		as.RemoveSection(&Section{Region: ram, Size: 0x1000})
		Expect(listener.removed).To(BeEmpty())
	})

	Context("translation", func() {
		BeforeEach(func() {
			as.AddSection(&Section{
				Region:                   ram,
				OffsetWithinRegion:       0x1000,
				OffsetWithinAddressSpace: 0x10000,
				Size:                     0x2000,
			})
		})

		It("should resolve an address to region, offset and available length", func() {
			region, xlat, avail, err := as.Translate(0x10800, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(region).To(BeIdenticalTo(ram))
			Expect(xlat).To(Equal(uint64(0x1800)))
			Expect(avail).To(Equal(uint64(0x1800)))
		})

		It("should fail for unmapped addresses", func() {
			_, _, _, err := as.Translate(0x20000, false)
			Expect(err).To(MatchError(ContainSubstring("no region maps address")))
		})
	})
})

var _ = Describe("Guest IOMMU state", func() {
	var iommu *IOMMU
	var received []TLBEntry
	var notifier *Notifier

	BeforeEach(func() {
		iommu = NewIOMMURegion("iommu", 0x100000).IOMMU()
		received = nil
		notifier = &Notifier{Notify: func(e TLBEntry) { received = append(received, e) }}
	})

	It("should deliver issued entries to registered notifiers", func() {
		iommu.RegisterNotifier(notifier)
		entry := TLBEntry{IOVA: 0x1000, AddrMask: 0xfff, TranslatedAddr: 0x2000, Perm: PermRW}
		iommu.Issue(entry)
		Expect(received).To(ConsistOf(entry))
	})

	It("should stop delivering after unregister", func() {
		iommu.RegisterNotifier(notifier)
		iommu.UnregisterNotifier(notifier)
		iommu.Issue(TLBEntry{IOVA: 0x1000, AddrMask: 0xfff, Perm: PermRW})
		Expect(received).To(BeEmpty())
		Expect(iommu.Notifiers()).To(BeZero())
	})

	It("should replay valid entries chopped to the requested granularity", func() {
		iommu.Issue(TLBEntry{IOVA: 0x2000, AddrMask: 0x1fff, TranslatedAddr: 0x8000, Perm: PermRead})
		iommu.Replay(notifier, 0x1000)

		Expect(received).To(Equal([]TLBEntry{
			{IOVA: 0x2000, AddrMask: 0xfff, TranslatedAddr: 0x8000, Perm: PermRead},
			{IOVA: 0x3000, AddrMask: 0xfff, TranslatedAddr: 0x9000, Perm: PermRead},
		}))
	})

	It("should not replay invalidated entries", func() {
		iommu.Issue(TLBEntry{IOVA: 0x2000, AddrMask: 0xfff, TranslatedAddr: 0x8000, Perm: PermRW})
		iommu.Issue(TLBEntry{IOVA: 0x2000, AddrMask: 0xfff, Perm: PermNone})

		iommu.Replay(notifier, 0x1000)
		Expect(received).To(BeEmpty())
	})

	It("should replace an entry re-issued for the same address", func() {
		iommu.Issue(TLBEntry{IOVA: 0x2000, AddrMask: 0xfff, TranslatedAddr: 0x8000, Perm: PermRW})
		iommu.Issue(TLBEntry{IOVA: 0x2000, AddrMask: 0xfff, TranslatedAddr: 0xa000, Perm: PermRW})

		iommu.Replay(notifier, 0x1000)
		Expect(received).To(HaveLen(1))
		Expect(received[0].TranslatedAddr).To(Equal(uint64(0xa000)))
	})
})
