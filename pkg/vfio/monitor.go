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
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"kubevirt.io/client-go/log"

	"kubevirt.io/vfio/pkg/vfio/kernel"
)

// WaitForGroupDevice waits until the character device for the isolation group
// shows up. Unbinding a device from its host driver and binding it to vfio
// creates the group node asynchronously, so callers racing the rebind need
// this before GetGroup.
func WaitForGroupDevice(groupID int, timeout time.Duration) error {
	return waitForDevice(kernel.GroupPathBase, strconv.Itoa(groupID), timeout)
}

// waitForDevice watches dir for name to appear. The watch is set up before
// the stat so a creation between the two cannot be missed.
func waitForDevice(dir, name string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %v", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %v", dir, err)
	}

	devicePath := filepath.Join(dir, name)
	if _, err := os.Stat(devicePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	log.Log.V(4).Infof("waiting for %s to appear", devicePath)
	deadline := time.After(timeout)
	for {
		select {
		case event := <-watcher.Events:
			if event.Op&fsnotify.Create != 0 && event.Name == devicePath {
				return nil
			}
		case watchErr := <-watcher.Errors:
			log.Log.Reason(watchErr).Warningf("error while watching %s", dir)
		case <-deadline:
			return fmt.Errorf("timed out waiting for %s", devicePath)
		}
	}
}
