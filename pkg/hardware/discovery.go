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

package hardware

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"kubevirt.io/client-go/log"
)

// HostDevice is one PCI device bound to the vfio-pci driver.
type HostDevice struct {
	PCIAddress string
	PCIID      string
	IOMMUGroup int
	NumaNode   int
}

// DiscoverPassthroughDevices walks the PCI device tree and returns the
// devices currently bound to vfio-pci, keyed by IOMMU group. Devices whose
// metadata cannot be read are logged and skipped; discovery is periodic and a
// device mid-rebind will show up on the next pass.
func DiscoverPassthroughDevices(handler Handler, basepath string) (map[int][]HostDevice, error) {
	devices := map[int][]HostDevice{}
	err := filepath.Walk(basepath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == basepath {
			return nil
		}
		// Device entries are symlinks on a real sysfs; never descend.
		skip := error(nil)
		if info.IsDir() {
			skip = filepath.SkipDir
		}

		pciAddress := info.Name()
		driver, err := handler.GetDeviceDriver(basepath, pciAddress)
		if err != nil || driver != VFIOPCIDriver {
			return skip
		}

		group, err := handler.GetDeviceIOMMUGroup(basepath, pciAddress)
		if err != nil {
			return skip
		}
		groupID, err := strconv.Atoi(group)
		if err != nil {
			log.DefaultLogger().Reason(err).Errorf("invalid iommu group %s for device %s", group, pciAddress)
			return skip
		}

		pciID, err := handler.GetDevicePCIID(basepath, pciAddress)
		if err != nil {
			log.DefaultLogger().Reason(err).Errorf("failed to read the pci id for device %s", pciAddress)
			return skip
		}

		devices[groupID] = append(devices[groupID], HostDevice{
			PCIAddress: pciAddress,
			PCIID:      pciID,
			IOMMUGroup: groupID,
			NumaNode:   handler.GetDeviceNumaNode(basepath, pciAddress),
		})
		return skip
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to discover host devices under %s", basepath)
	}
	return devices, nil
}

// GroupSiblings returns the PCI addresses of every device in the IOMMU group,
// the set that must be bound to vfio-pci before the group becomes viable.
func GroupSiblings(handler Handler, basepath string, groupID int) ([]string, error) {
	addresses, err := handler.GetIOMMUGroupDevices(basepath, strconv.Itoa(groupID))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list devices of iommu group %d", groupID)
	}
	return addresses, nil
}
