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
 */

package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kubevirt.io/client-go/log"

	"kubevirt.io/vfio/pkg/hardware"
	"kubevirt.io/vfio/pkg/hostmem"
	"kubevirt.io/vfio/pkg/vfio"
	"kubevirt.io/vfio/pkg/vfio/kernel"
)

func main() {
	log.InitializeLogging("vfioctl")

	rootCmd := &cobra.Command{
		Use:   "vfioctl",
		Short: "inspect the host's vfio passthrough state",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf(cmd.UsageString())
		},
	}

	handler := &hardware.SysfsHandler{}

	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "list iommu groups with devices bound to vfio-pci",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := hardware.DiscoverPassthroughDevices(handler, hardware.PCIBasePath)
			if err != nil {
				return err
			}

			groupIDs := make([]int, 0, len(devices))
			for groupID := range devices {
				groupIDs = append(groupIDs, groupID)
			}
			sort.Ints(groupIDs)

			for _, groupID := range groupIDs {
				cmd.Printf("group %d:\n", groupID)
				for _, device := range devices[groupID] {
					cmd.Printf("  %s  id %s  numa %d\n",
						device.PCIAddress, device.PCIID, device.NumaNode)
				}
			}
			return nil
		},
	}

	var infoTimeout time.Duration
	infoCmd := &cobra.Command{
		Use:   "info PCI-ADDRESS",
		Short: "open a vfio-pci device end to end and report what the kernel offers for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pciAddress := args[0]

			group, err := handler.GetDeviceIOMMUGroup(hardware.PCIBasePath, pciAddress)
			if err != nil {
				return err
			}
			groupID, err := strconv.Atoi(group)
			if err != nil {
				return fmt.Errorf("invalid iommu group %q for device %s: %v", group, pciAddress, err)
			}

			if err := vfio.WaitForGroupDevice(groupID, infoTimeout); err != nil {
				return err
			}

			sysMem := hostmem.NewAddressSpace("system-memory")
			registry := vfio.NewRegistry(kernel.New(), sysMem)
			grp, err := registry.GetGroup(groupID, sysMem)
			if err != nil {
				return err
			}

			device, err := grp.GetDevice(pciAddress, &inspectOps{})
			if err != nil {
				registry.PutGroup(grp)
				return err
			}
			defer device.Close()

			node, err := handler.GetDeviceVFIODevice(hardware.PCIBasePath, pciAddress)
			if err != nil {
				return err
			}
			cmd.Printf("%s: iommu group %d (%s), %d region(s), %d irq(s), reset works: %t\n",
				pciAddress, groupID, node, device.NumRegions(), device.NumIRQs(), device.ResetWorks())

			for index := uint32(0); index < device.NumRegions(); index++ {
				region, err := device.RegionSetup(index, fmt.Sprintf("region%d", index))
				if err != nil {
					cmd.Printf("  region %d: %v\n", index, err)
					continue
				}
				cmd.Printf("  region %d: size 0x%x, flags 0x%x, direct windows: %d\n",
					index, region.Size(), region.Flags(), len(region.Windows()))
				region.Finalize()
			}

			for index := uint32(0); index < device.NumIRQs(); index++ {
				irq, err := device.IRQInfo(index)
				if err != nil {
					cmd.Printf("  irq %d: %v\n", index, err)
					continue
				}
				cmd.Printf("  irq %d: count %d, flags 0x%x\n", index, irq.Count, irq.Flags)
			}

			siblings, err := hardware.GroupSiblings(handler, hardware.IOMMUGroupBasePath, groupID)
			if err != nil {
				return err
			}
			cmd.Printf("  group siblings: %s\n", strings.Join(siblings, " "))
			return nil
		},
	}
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 5*time.Second,
		"how long to wait for the group device node")

	rootCmd.AddCommand(groupsCmd, infoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// inspectOps is the minimal device behavior table for read-only inspection.
type inspectOps struct{}

func (o *inspectOps) ComputeNeedsReset(d *vfio.Device) {
	d.SetNeedsReset(false)
}

func (o *inspectOps) HotResetMulti(d *vfio.Device) error {
	return nil
}

func (o *inspectOps) EOI(d *vfio.Device) {}
