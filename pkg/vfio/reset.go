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

import "kubevirt.io/client-go/log"

// Reset resets every passthrough device in two phases: first all devices
// recompute whether they need a reset, then each device still marked is reset
// through its multi-device path. A multi-device reset may clear the mark on
// siblings, so the first phase must finish across all groups before any reset
// fires.
func (r *Registry) Reset() {
	for _, group := range r.groups {
		for _, dev := range group.devices {
			dev.ops.ComputeNeedsReset(dev)
		}
	}

	for _, group := range r.groups {
		for _, dev := range group.devices {
			if !dev.needsReset {
				continue
			}
			if err := dev.ops.HotResetMulti(dev); err != nil {
				log.Log.Reason(err).Errorf("failed to reset device %s", dev.name)
			}
		}
	}
}
