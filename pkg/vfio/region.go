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
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"kubevirt.io/client-go/log"

	"kubevirt.io/vfio/pkg/vfio/kernel"
)

// MmapWindow is one direct-mapped span of a region. A window is attached when
// backing host memory exists for it, and enabled when the device model wants
// the fast path active; only both together make it usable.
type MmapWindow struct {
	offset uint64
	size   uint64

	mem      []byte
	attached bool
	enabled  bool
}

func (w *MmapWindow) Active() bool {
	return w.attached && w.enabled
}

// Bytes returns the backing memory, nil while the window is unmapped.
func (w *MmapWindow) Bytes() []byte {
	return w.mem
}

// Region is one device region: a trapped access funnel over the device fd,
// plus zero or more direct-map windows layered on top.
type Region struct {
	device *Device
	index  uint32
	name   string

	size     uint64
	fdOffset uint64
	flags    uint32

	windows []*MmapWindow
}

// RegionSetup queries region index and prepares its access paths. Zero-sized
// regions get no access path at all; a region the kernel reports as mappable
// additionally gets one direct window spanning it, unless mmap is disabled
// for the device or the size is not page-aligned.
func (d *Device) RegionSetup(index uint32, name string) (*Region, error) {
	info, err := d.group.registry.kernel.GetRegionInfo(d.fd, index)
	if err != nil {
		return nil, fmt.Errorf("error getting region %d info for device %s: %v", index, d.name, err)
	}

	region := &Region{
		device:   d,
		index:    index,
		name:     name,
		size:     info.Size,
		fdOffset: info.Offset,
		flags:    info.Flags,
	}

	if region.size > 0 &&
		!d.mmapDisabled &&
		info.Flags&kernel.RegionInfoFlagMmap != 0 &&
		region.size%uint64(os.Getpagesize()) == 0 {
		region.windows = append(region.windows, &MmapWindow{
			offset:  0,
			size:    region.size,
			enabled: true,
		})
	}

	d.regions = append(d.regions, region)
	log.Log.V(4).Infof("region %s: size 0x%x, offset 0x%x, flags 0x%x, %d mmap windows",
		name, region.size, region.fdOffset, region.flags, len(region.windows))
	return region, nil
}

func (r *Region) Name() string {
	return r.name
}

func (r *Region) Size() uint64 {
	return r.size
}

func (r *Region) Flags() uint32 {
	return r.flags
}

func (r *Region) Windows() []*MmapWindow {
	return r.windows
}

func (r *Region) mmapProt() int {
	prot := 0
	if r.flags&kernel.RegionInfoFlagRead != 0 {
		prot |= unix.PROT_READ
	}
	if r.flags&kernel.RegionInfoFlagWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	return prot
}

// Mmap maps every window of the region. Mapping is all or nothing: a failure
// unwinds the windows already mapped and leaves the region fully trapped.
func (r *Region) Mmap() error {
	k := r.device.group.registry.kernel
	for i, win := range r.windows {
		mem, err := k.Mmap(r.device.fd, r.fdOffset+win.offset, win.size, r.mmapProt())
		if err != nil {
			for _, mapped := range r.windows[:i] {
				if munmapErr := k.Munmap(mapped.mem); munmapErr != nil {
					log.Log.Reason(munmapErr).Warningf("failed to unmap window of region %s", r.name)
				}
				mapped.mem = nil
				mapped.attached = false
			}
			return fmt.Errorf("failed to mmap region %s offset 0x%x size 0x%x: %v",
				r.name, win.offset, win.size, err)
		}
		win.mem = mem
		win.attached = true
	}
	return nil
}

// Exit quiesces the region: every window is detached so all access funnels
// through the trapped path, but the backing memory stays mapped for a later
// re-attach.
func (r *Region) Exit() {
	for _, win := range r.windows {
		win.attached = false
	}
}

// Finalize releases the region: window memory is unmapped and the region is
// dropped from its device.
func (r *Region) Finalize() {
	k := r.device.group.registry.kernel
	for _, win := range r.windows {
		if win.mem != nil {
			if err := k.Munmap(win.mem); err != nil {
				log.Log.Reason(err).Warningf("failed to unmap window of region %s", r.name)
			}
			win.mem = nil
		}
		win.attached = false
	}
	for i, registered := range r.device.regions {
		if registered == r {
			r.device.regions = append(r.device.regions[:i], r.device.regions[i+1:]...)
			break
		}
	}
}

// SetMmapsEnabled toggles the fast path on every window. Mapped memory is
// untouched; a disabled window simply stops being active.
func (r *Region) SetMmapsEnabled(enabled bool) {
	for _, win := range r.windows {
		win.enabled = enabled
	}
}

// Read performs a trapped read of 1, 2 or 4 bytes at addr, returning the
// little-endian value. The device's pending interrupt is completed whether or
// not the access succeeds.
func (r *Region) Read(addr uint64, width int) (uint64, error) {
	defer r.device.ops.EOI(r.device)

	buf := make([]byte, width)
	n, err := r.device.group.registry.kernel.Pread(r.device.fd, buf, r.fdOffset+addr)
	if err != nil || n != width {
		return 0, fmt.Errorf("%s: read %d bytes at 0x%x failed: %v (%d bytes read)",
			r.name, width, addr, err, n)
	}

	switch width {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	default:
		panic(fmt.Sprintf("invalid access width %d", width))
	}
}

// Write performs a trapped write of 1, 2 or 4 bytes at addr, little-endian.
// The device's pending interrupt is completed whether or not the access
// succeeds.
func (r *Region) Write(addr uint64, width int, value uint64) error {
	defer r.device.ops.EOI(r.device)

	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	default:
		panic(fmt.Sprintf("invalid access width %d", width))
	}

	n, err := r.device.group.registry.kernel.Pwrite(r.device.fd, buf, r.fdOffset+addr)
	if err != nil || n != width {
		return fmt.Errorf("%s: write %d bytes at 0x%x failed: %v (%d bytes written)",
			r.name, width, addr, err, n)
	}
	return nil
}
