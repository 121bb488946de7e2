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

//go:generate mockgen -source $GOFILE -package=$GOPACKAGE -destination=generated_mock_$GOFILE

// Package hardware discovers passthrough-capable host devices through sysfs:
// which driver a PCI device is bound to, which IOMMU group it sits in, and
// which siblings share that group.
package hardware

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"kubevirt.io/client-go/log"
)

const (
	// PCIBasePath is where sysfs lists PCI devices.
	PCIBasePath = "/sys/bus/pci/devices"
	// IOMMUGroupBasePath is where sysfs lists IOMMU groups.
	IOMMUGroupBasePath = "/sys/kernel/iommu_groups"

	// VFIOPCIDriver is the driver name a device must be bound to before its
	// group becomes usable for passthrough.
	VFIOPCIDriver = "vfio-pci"
)

type Handler interface {
	GetDeviceIOMMUGroup(basepath string, pciAddress string) (string, error)
	GetDeviceDriver(basepath string, pciAddress string) (string, error)
	GetDeviceNumaNode(basepath string, pciAddress string) (numaNode int)
	GetDevicePCIID(basepath string, pciAddress string) (string, error)
	GetDeviceVFIODevice(basepath string, pciAddress string) (string, error)
	GetIOMMUGroupDevices(basepath string, iommuGroup string) ([]string, error)
}

type SysfsHandler struct{}

// GetDeviceIOMMUGroup gets the device's iommu_group,
// e.g. /sys/bus/pci/devices/0000\:65\:00.0/iommu_group -> ../../../../../kernel/iommu_groups/45
func (h *SysfsHandler) GetDeviceIOMMUGroup(basepath string, pciAddress string) (string, error) {
	iommuLink := filepath.Join(basepath, pciAddress, "iommu_group")
	iommuPath, err := os.Readlink(iommuLink)
	if err != nil {
		log.DefaultLogger().Reason(err).Errorf("failed to read iommu_group link %s for device %s", iommuLink, pciAddress)
		return "", err
	}
	_, iommuGroup := filepath.Split(iommuPath)
	return iommuGroup, nil
}

// gets device driver
func (h *SysfsHandler) GetDeviceDriver(basepath string, pciAddress string) (string, error) {
	driverLink := filepath.Join(basepath, pciAddress, "driver")
	driverPath, err := os.Readlink(driverLink)
	if err != nil {
		log.DefaultLogger().Reason(err).Errorf("failed to read driver link %s for device %s", driverLink, pciAddress)
		return "", err
	}
	_, driver := filepath.Split(driverPath)
	return driver, nil
}

func (h *SysfsHandler) GetDeviceNumaNode(basepath string, pciAddress string) (numaNode int) {
	numaNode = -1
	numaNodePath := filepath.Join(basepath, pciAddress, "numa_node")
	// #nosec No risk for path injection. Reading static path of NUMA node info
	numaNodeStr, err := os.ReadFile(numaNodePath)
	if err != nil {
		log.DefaultLogger().Reason(err).Errorf("failed to read numa_node %s for device %s", numaNodePath, pciAddress)
		return
	}
	numaNodeStr = bytes.TrimSpace(numaNodeStr)
	numaNode, err = strconv.Atoi(string(numaNodeStr))
	if err != nil {
		log.DefaultLogger().Reason(err).Errorf("failed to convert numa node value %v of device %s", numaNodeStr, pciAddress)
		return
	}
	return
}

func (h *SysfsHandler) GetDevicePCIID(basepath string, pciAddress string) (string, error) {
	// #nosec No risk for path injection. Reading static path of PCI data
	file, err := os.Open(filepath.Join(basepath, pciAddress, "uevent"))
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "PCI_ID") {
			equal := strings.Index(line, "=")
			value := strings.TrimSpace(line[equal+1:])
			return strings.ToLower(value), nil
		}
	}
	return "", fmt.Errorf("no pci_id is found")
}

// GetDeviceVFIODevice resolves the /dev/vfio node carrying the device's
// IOMMU group.
func (h *SysfsHandler) GetDeviceVFIODevice(basepath string, pciAddress string) (string, error) {
	iommuGroup, err := h.GetDeviceIOMMUGroup(basepath, pciAddress)
	if err != nil {
		return "", err
	}
	return filepath.Join("/dev/vfio", iommuGroup), nil
}

// GetIOMMUGroupDevices lists the PCI addresses sharing an IOMMU group,
// e.g. /sys/kernel/iommu_groups/45/devices/.
func (h *SysfsHandler) GetIOMMUGroupDevices(basepath string, iommuGroup string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(basepath, iommuGroup, "devices"))
	if err != nil {
		return nil, err
	}
	var addresses []string
	for _, entry := range entries {
		addresses = append(addresses, entry.Name())
	}
	return addresses, nil
}
