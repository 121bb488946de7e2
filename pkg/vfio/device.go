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

	"kubevirt.io/vfio/pkg/vfio/kernel"
)

// DeviceOps is the bus-specific behavior a device type plugs into the common
// lifecycle. PCI devices, platform devices and the fake devices used in tests
// all provide their own table.
type DeviceOps interface {
	// ComputeNeedsReset recomputes and stores the device's needs-reset
	// state ahead of a registry-wide reset pass.
	ComputeNeedsReset(*Device)
	// HotResetMulti performs a multi-device reset covering the device,
	// clearing needs-reset on every sibling the reset reached.
	HotResetMulti(*Device) error
	// EOI completes a pending interrupt after a trapped region access.
	EOI(*Device)
}

// Device is one passthrough device checked out from its isolation group.
type Device struct {
	group *Group
	ops   DeviceOps

	name string
	fd   int

	numRegions uint32
	numIRQs    uint32

	// resetWorks records whether the kernel accepts a device-level reset.
	resetWorks bool
	needsReset bool

	// mmapDisabled forces every region onto the trapped slow path; some
	// devices have quirks that make direct mapping unsafe.
	mmapDisabled bool

	regions []*Region
}

// GetDevice checks out the named device from the group. The group must
// already be bound to a container; a device the kernel refuses to hand out
// usually means a sibling in the group is still bound to a host driver.
func (g *Group) GetDevice(name string, ops DeviceOps) (*Device, error) {
	fd, err := g.registry.kernel.GetDeviceFD(g.fd, name)
	if err != nil {
		return nil, fmt.Errorf("error getting device %s from group %d: %v, "+
			"verify all devices in group %d are bound to their vfio bus driver",
			name, g.id, err, g.id)
	}

	info, err := g.registry.kernel.GetDeviceInfo(fd)
	if err != nil {
		g.registry.closeFD(fd)
		return nil, fmt.Errorf("error getting device info for %s: %v", name, err)
	}

	dev := &Device{
		group:      g,
		ops:        ops,
		name:       name,
		fd:         fd,
		numRegions: info.NumRegions,
		numIRQs:    info.NumIRQs,
		resetWorks: info.Flags&kernel.DeviceFlagsReset != 0,
	}
	g.devices = append(g.devices, dev)
	log.Log.V(4).Infof("device %s: %d regions, %d irqs, reset works: %t",
		name, dev.numRegions, dev.numIRQs, dev.resetWorks)
	return dev, nil
}

// Close releases the device back to its group and releases the group when the
// device was the last one checked out. Regions must be finalized first.
func (d *Device) Close() {
	g := d.group
	for i, registered := range g.devices {
		if registered == d {
			g.devices = append(g.devices[:i], g.devices[i+1:]...)
			break
		}
	}
	g.registry.closeFD(d.fd)
	d.fd = -1
	g.registry.PutGroup(g)
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) FD() int {
	return d.fd
}

func (d *Device) Group() *Group {
	return d.group
}

func (d *Device) NumRegions() uint32 {
	return d.numRegions
}

func (d *Device) NumIRQs() uint32 {
	return d.numIRQs
}

func (d *Device) ResetWorks() bool {
	return d.resetWorks
}

func (d *Device) SetNeedsReset(needs bool) {
	d.needsReset = needs
}

func (d *Device) NeedsReset() bool {
	return d.needsReset
}

// IRQInfo queries the kernel's interrupt metadata for one IRQ index.
func (d *Device) IRQInfo(index uint32) (*kernel.IRQInfo, error) {
	info, err := d.group.registry.kernel.GetIRQInfo(d.fd, index)
	if err != nil {
		return nil, fmt.Errorf("failed to get irq info %d for device %s: %v", index, d.name, err)
	}
	return info, nil
}

// DisableMmap forces trapped access for all regions set up afterwards.
func (d *Device) DisableMmap() {
	d.mmapDisabled = true
}

// Reset issues a device-level reset through the kernel.
func (d *Device) Reset() error {
	if err := d.group.registry.kernel.ResetDevice(d.fd); err != nil {
		return fmt.Errorf("failed to reset device %s: %v", d.name, err)
	}
	return nil
}
