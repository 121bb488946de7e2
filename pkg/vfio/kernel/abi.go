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

package kernel

// VFIO ioctls are all plain _IO(';', 100+n); the argument size travels in the
// argsz field of each struct instead of the request number.
const (
	vfioType = ';'
	vfioBase = 100
)

func vfioIoctl(nr uintptr) uintptr {
	return uintptr(vfioType)<<8 | (vfioBase + nr)
}

var (
	vfioGetAPIVersion       = vfioIoctl(0)
	vfioCheckExtension      = vfioIoctl(1)
	vfioSetIOMMU            = vfioIoctl(2)
	vfioGroupGetStatus      = vfioIoctl(3)
	vfioGroupSetContainer   = vfioIoctl(4)
	vfioGroupUnsetContainer = vfioIoctl(5)
	vfioGroupGetDeviceFD    = vfioIoctl(6)
	vfioDeviceGetInfo       = vfioIoctl(7)
	vfioDeviceGetRegionInfo = vfioIoctl(8)
	vfioDeviceGetIRQInfo    = vfioIoctl(9)
	vfioDeviceReset         = vfioIoctl(11)
	vfioIOMMUGetInfo        = vfioIoctl(12)
	vfioSpaprTCEGetInfo     = vfioIoctl(12)
	vfioIOMMUMapDMA         = vfioIoctl(13)
	vfioIOMMUUnmapDMA       = vfioIoctl(14)
	vfioIOMMUEnable         = vfioIoctl(15)
	vfioEEHPEOp             = vfioIoctl(21)
)

const (
	// APIVersion is the VFIO API version this package speaks.
	APIVersion = 0

	// ContainerPath is the host container device node.
	ContainerPath = "/dev/vfio/vfio"
	// GroupPathBase is the directory holding per-group device nodes.
	GroupPathBase = "/dev/vfio"
)

// IOMMU model extensions, in the order the kernel numbers them.
const (
	Type1IOMMU    uintptr = 1
	SpaprTCEIOMMU uintptr = 2
	Type1v2IOMMU  uintptr = 3
)

// Group status flags.
const (
	GroupFlagsViable       uint32 = 1 << 0
	GroupFlagsContainerSet uint32 = 1 << 1
)

// Device info flags.
const (
	DeviceFlagsReset uint32 = 1 << 0
	DeviceFlagsPCI   uint32 = 1 << 1
)

// Region info flags.
const (
	RegionInfoFlagRead  uint32 = 1 << 0
	RegionInfoFlagWrite uint32 = 1 << 1
	RegionInfoFlagMmap  uint32 = 1 << 2
)

// IOMMU info flags.
const (
	IOMMUInfoPgSizes uint32 = 1 << 0
)

// DMA map flags.
const (
	dmaMapFlagRead  uint32 = 1 << 0
	dmaMapFlagWrite uint32 = 1 << 1
)

// EEH PE operations accepted by EEHPEOp.
const (
	EEHPEDisable          uint32 = 0
	EEHPEEnable           uint32 = 1
	EEHPEUnfreezeIO       uint32 = 2
	EEHPEUnfreezeDMA      uint32 = 3
	EEHPEGetState         uint32 = 4
	EEHPEResetDeactivate  uint32 = 5
	EEHPEResetHot         uint32 = 6
	EEHPEResetFundamental uint32 = 7
	EEHPEConfigure        uint32 = 8
)

// Argument structs mirror struct vfio_* from the kernel ABI; layout matters,
// these are passed to ioctl by pointer.

type groupStatus struct {
	argsz uint32
	flags uint32
}

type deviceInfo struct {
	argsz      uint32
	flags      uint32
	numRegions uint32
	numIRQs    uint32
}

type regionInfo struct {
	argsz     uint32
	flags     uint32
	index     uint32
	capOffset uint32
	size      uint64
	offset    uint64
}

type irqInfo struct {
	argsz uint32
	flags uint32
	index uint32
	count uint32
}

type iommuType1Info struct {
	argsz       uint32
	flags       uint32
	iovaPgSizes uint64
}

type iommuType1DMAMap struct {
	argsz uint32
	flags uint32
	vaddr uint64
	iova  uint64
	size  uint64
}

type iommuType1DMAUnmap struct {
	argsz uint32
	flags uint32
	iova  uint64
	size  uint64
}

type iommuSpaprTCEInfo struct {
	argsz            uint32
	flags            uint32
	dma32WindowStart uint32
	dma32WindowSize  uint32
}

type eehPEOp struct {
	argsz uint32
	flags uint32
	op    uint32
}

// Exported views of the kernel-reported metadata.

type DeviceInfo struct {
	Flags      uint32
	NumRegions uint32
	NumIRQs    uint32
}

type RegionInfo struct {
	Flags  uint32
	Index  uint32
	Size   uint64
	Offset uint64
}

type IRQInfo struct {
	Flags uint32
	Index uint32
	Count uint32
}

type IOMMUInfo struct {
	Flags   uint32
	PgSizes uint64
}

type SpaprTCEInfo struct {
	DMA32WindowStart uint32
	DMA32WindowSize  uint32
}
