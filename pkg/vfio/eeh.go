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

	"golang.org/x/sys/unix"

	"kubevirt.io/vfio/pkg/hostmem"
)

// EEHOp issues an error-injection/recovery operation against the container's
// partitionable endpoint. The kernel scopes the endpoint to a single group;
// a container serving several groups has no well-defined endpoint and the
// operation is refused locally.
func (c *Container) EEHOp(op uint32) error {
	if len(c.groups) != 1 {
		return fmt.Errorf("eeh requires a container with exactly one group, have %d: %w",
			len(c.groups), unix.EPERM)
	}
	if err := c.registry.kernel.EEHPEOp(c.fd, op); err != nil {
		return fmt.Errorf("eeh op 0x%x failed: %v", op, err)
	}
	return nil
}

// eehAsContainer resolves the single container serving as, or nil when the
// address space has none or more than one. The probe never leaves a dangling
// empty address-space entry behind.
func (r *Registry) eehAsContainer(as *hostmem.AddressSpace) *Container {
	space := r.getAddressSpace(as)
	defer r.putAddressSpace(space)
	if len(space.containers) != 1 {
		return nil
	}
	return space.containers[0]
}

// EEHAsOK reports whether EEH operations can target the address space. The
// container must serve exactly one group, same as EEHOp demands.
func (r *Registry) EEHAsOK(as *hostmem.AddressSpace) bool {
	container := r.eehAsContainer(as)
	return container != nil && len(container.groups) == 1
}

// EEHAsOp issues an EEH operation against the container serving the address
// space.
func (r *Registry) EEHAsOp(as *hostmem.AddressSpace, op uint32) error {
	container := r.eehAsContainer(as)
	if container == nil {
		return fmt.Errorf("no usable container for eeh: %w", unix.ENODEV)
	}
	return container.EEHOp(op)
}
