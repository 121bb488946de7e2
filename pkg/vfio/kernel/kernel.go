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

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Interface is the narrow request/response surface of the host VFIO driver.
// Every call is synchronous and leaves kernel state unchanged on error.
// Errors carry the raw errno where one exists so callers can match on
// unix.EBUSY and friends.
type Interface interface {
	OpenContainer() (int, error)
	APIVersion(containerFD int) (int, error)
	CheckExtension(containerFD int, extension uintptr) bool
	SetIOMMU(containerFD int, model uintptr) error
	GetIOMMUInfo(containerFD int) (*IOMMUInfo, error)
	GetSpaprTCEInfo(containerFD int) (*SpaprTCEInfo, error)
	EnableIOMMU(containerFD int) error
	MapDMA(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error
	UnmapDMA(containerFD int, iova, size uint64) error

	OpenGroup(groupID int) (int, error)
	GetGroupStatus(groupFD int) (uint32, error)
	SetGroupContainer(groupFD, containerFD int) error
	UnsetGroupContainer(groupFD, containerFD int) error
	GetDeviceFD(groupFD int, name string) (int, error)

	GetDeviceInfo(deviceFD int) (*DeviceInfo, error)
	GetRegionInfo(deviceFD int, index uint32) (*RegionInfo, error)
	GetIRQInfo(deviceFD int, index uint32) (*IRQInfo, error)
	ResetDevice(deviceFD int) error

	EEHPEOp(containerFD int, op uint32) error

	Mmap(deviceFD int, offset uint64, size uint64, prot int) ([]byte, error)
	Munmap(mem []byte) error
	Pread(deviceFD int, buf []byte, offset uint64) (int, error)
	Pwrite(deviceFD int, buf []byte, offset uint64) (int, error)

	Close(fd int) error
}

type hostKernel struct{}

// New returns the ioctl-backed binding to the host VFIO driver.
func New() Interface {
	return &hostKernel{}
}

func ioctl(fd int, req uintptr, arg uintptr) (uintptr, error) {
	r, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return r, errno
	}
	return r, nil
}

func (k *hostKernel) OpenContainer() (int, error) {
	return unix.Open(ContainerPath, unix.O_RDWR, 0)
}

func (k *hostKernel) APIVersion(containerFD int) (int, error) {
	v, err := ioctl(containerFD, vfioGetAPIVersion, 0)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (k *hostKernel) CheckExtension(containerFD int, extension uintptr) bool {
	v, err := ioctl(containerFD, vfioCheckExtension, extension)
	return err == nil && v != 0
}

func (k *hostKernel) SetIOMMU(containerFD int, model uintptr) error {
	_, err := ioctl(containerFD, vfioSetIOMMU, model)
	return err
}

func (k *hostKernel) GetIOMMUInfo(containerFD int) (*IOMMUInfo, error) {
	info := iommuType1Info{argsz: uint32(unsafe.Sizeof(iommuType1Info{}))}
	if _, err := ioctl(containerFD, vfioIOMMUGetInfo, uintptr(unsafe.Pointer(&info))); err != nil {
		return nil, err
	}
	return &IOMMUInfo{Flags: info.flags, PgSizes: info.iovaPgSizes}, nil
}

func (k *hostKernel) GetSpaprTCEInfo(containerFD int) (*SpaprTCEInfo, error) {
	info := iommuSpaprTCEInfo{argsz: uint32(unsafe.Sizeof(iommuSpaprTCEInfo{}))}
	if _, err := ioctl(containerFD, vfioSpaprTCEGetInfo, uintptr(unsafe.Pointer(&info))); err != nil {
		return nil, err
	}
	return &SpaprTCEInfo{
		DMA32WindowStart: info.dma32WindowStart,
		DMA32WindowSize:  info.dma32WindowSize,
	}, nil
}

func (k *hostKernel) EnableIOMMU(containerFD int) error {
	_, err := ioctl(containerFD, vfioIOMMUEnable, 0)
	return err
}

func (k *hostKernel) MapDMA(containerFD int, iova, size uint64, vaddr uintptr, readonly bool) error {
	m := iommuType1DMAMap{
		argsz: uint32(unsafe.Sizeof(iommuType1DMAMap{})),
		flags: dmaMapFlagRead,
		vaddr: uint64(vaddr),
		iova:  iova,
		size:  size,
	}
	if !readonly {
		m.flags |= dmaMapFlagWrite
	}
	_, err := ioctl(containerFD, vfioIOMMUMapDMA, uintptr(unsafe.Pointer(&m)))
	return err
}

func (k *hostKernel) UnmapDMA(containerFD int, iova, size uint64) error {
	u := iommuType1DMAUnmap{
		argsz: uint32(unsafe.Sizeof(iommuType1DMAUnmap{})),
		iova:  iova,
		size:  size,
	}
	_, err := ioctl(containerFD, vfioIOMMUUnmapDMA, uintptr(unsafe.Pointer(&u)))
	return err
}

func (k *hostKernel) OpenGroup(groupID int) (int, error) {
	return unix.Open(fmt.Sprintf("%s/%d", GroupPathBase, groupID), unix.O_RDWR, 0)
}

func (k *hostKernel) GetGroupStatus(groupFD int) (uint32, error) {
	status := groupStatus{argsz: uint32(unsafe.Sizeof(groupStatus{}))}
	if _, err := ioctl(groupFD, vfioGroupGetStatus, uintptr(unsafe.Pointer(&status))); err != nil {
		return 0, err
	}
	return status.flags, nil
}

func (k *hostKernel) SetGroupContainer(groupFD, containerFD int) error {
	fd := int32(containerFD)
	_, err := ioctl(groupFD, vfioGroupSetContainer, uintptr(unsafe.Pointer(&fd)))
	return err
}

func (k *hostKernel) UnsetGroupContainer(groupFD, containerFD int) error {
	fd := int32(containerFD)
	_, err := ioctl(groupFD, vfioGroupUnsetContainer, uintptr(unsafe.Pointer(&fd)))
	return err
}

func (k *hostKernel) GetDeviceFD(groupFD int, name string) (int, error) {
	buf, err := unix.ByteSliceFromString(name)
	if err != nil {
		return -1, err
	}
	fd, err := ioctl(groupFD, vfioGroupGetDeviceFD, uintptr(unsafe.Pointer(&buf[0])))
	if err != nil {
		return -1, err
	}
	return int(fd), nil
}

func (k *hostKernel) GetDeviceInfo(deviceFD int) (*DeviceInfo, error) {
	info := deviceInfo{argsz: uint32(unsafe.Sizeof(deviceInfo{}))}
	if _, err := ioctl(deviceFD, vfioDeviceGetInfo, uintptr(unsafe.Pointer(&info))); err != nil {
		return nil, err
	}
	return &DeviceInfo{
		Flags:      info.flags,
		NumRegions: info.numRegions,
		NumIRQs:    info.numIRQs,
	}, nil
}

func (k *hostKernel) GetRegionInfo(deviceFD int, index uint32) (*RegionInfo, error) {
	info := regionInfo{
		argsz: uint32(unsafe.Sizeof(regionInfo{})),
		index: index,
	}
	if _, err := ioctl(deviceFD, vfioDeviceGetRegionInfo, uintptr(unsafe.Pointer(&info))); err != nil {
		return nil, err
	}
	return &RegionInfo{
		Flags:  info.flags,
		Index:  info.index,
		Size:   info.size,
		Offset: info.offset,
	}, nil
}

func (k *hostKernel) GetIRQInfo(deviceFD int, index uint32) (*IRQInfo, error) {
	info := irqInfo{
		argsz: uint32(unsafe.Sizeof(irqInfo{})),
		index: index,
	}
	if _, err := ioctl(deviceFD, vfioDeviceGetIRQInfo, uintptr(unsafe.Pointer(&info))); err != nil {
		return nil, err
	}
	return &IRQInfo{
		Flags: info.flags,
		Index: info.index,
		Count: info.count,
	}, nil
}

func (k *hostKernel) ResetDevice(deviceFD int) error {
	_, err := ioctl(deviceFD, vfioDeviceReset, 0)
	return err
}

func (k *hostKernel) EEHPEOp(containerFD int, op uint32) error {
	peOp := eehPEOp{
		argsz: uint32(unsafe.Sizeof(eehPEOp{})),
		op:    op,
	}
	_, err := ioctl(containerFD, vfioEEHPEOp, uintptr(unsafe.Pointer(&peOp)))
	return err
}

func (k *hostKernel) Mmap(deviceFD int, offset uint64, size uint64, prot int) ([]byte, error) {
	return unix.Mmap(deviceFD, int64(offset), int(size), prot, unix.MAP_SHARED)
}

func (k *hostKernel) Munmap(mem []byte) error {
	return unix.Munmap(mem)
}

func (k *hostKernel) Pread(deviceFD int, buf []byte, offset uint64) (int, error) {
	return unix.Pread(deviceFD, buf, int64(offset))
}

func (k *hostKernel) Pwrite(deviceFD int, buf []byte, offset uint64) (int, error) {
	return unix.Pwrite(deviceFD, buf, int64(offset))
}

func (k *hostKernel) Close(fd int) error {
	return unix.Close(fd)
}
