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
	"kubevirt.io/vfio/pkg/vfio/kernel"
)

// Group is one host isolation group: the smallest set of devices the kernel
// will hand out individually. A group is bound to at most one container.
type Group struct {
	registry  *Registry
	id        int
	fd        int
	container *Container
	devices   []*Device
}

func (g *Group) ID() int {
	return g.id
}

func (g *Group) Container() *Container {
	return g.container
}

func (g *Group) Devices() []*Device {
	return g.devices
}

// GetGroup opens isolation group id and binds it to a container servicing
// as, or returns the already-open group when it is bound to the same address
// space. A group cannot serve two address spaces at once.
func (r *Registry) GetGroup(id int, as *hostmem.AddressSpace) (*Group, error) {
	for _, group := range r.groups {
		if group.id != id {
			continue
		}
		if group.container.space.as == as {
			return group, nil
		}
		return nil, fmt.Errorf("group %d used in multiple address spaces", id)
	}

	fd, err := r.kernel.OpenGroup(id)
	if err != nil {
		return nil, fmt.Errorf("error opening %s/%d: %v", kernel.GroupPathBase, id, err)
	}

	flags, err := r.kernel.GetGroupStatus(fd)
	if err != nil {
		r.closeFD(fd)
		return nil, fmt.Errorf("error getting group %d status: %v", id, err)
	}
	if flags&kernel.GroupFlagsViable == 0 {
		r.closeFD(fd)
		return nil, fmt.Errorf("group %d is not viable, please ensure all devices within "+
			"the iommu_group are bound to their vfio bus driver", id)
	}

	group := &Group{registry: r, id: id, fd: fd}
	if err := r.connectContainer(group, as); err != nil {
		r.closeFD(fd)
		return nil, fmt.Errorf("failed to setup container for group %d: %v", id, err)
	}

	r.groups = append(r.groups, group)
	return group, nil
}

// PutGroup releases a group once its device set is empty: the group is
// unbound from its container, closed, and dropped from the registry. Groups
// that still own devices are left untouched.
func (r *Registry) PutGroup(group *Group) {
	if group == nil || len(group.devices) > 0 {
		return
	}

	r.disconnectContainer(group)
	for i, registered := range r.groups {
		if registered == group {
			r.groups = append(r.groups[:i], r.groups[i+1:]...)
			break
		}
	}
	r.closeFD(group.fd)
}

func (r *Registry) closeFD(fd int) {
	if err := r.kernel.Close(fd); err != nil {
		log.Log.Reason(err).Warningf("failed to close fd %d", fd)
	}
}
