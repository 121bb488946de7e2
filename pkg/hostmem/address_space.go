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

package hostmem

import (
	"fmt"
	"sync"
)

// Section is a window of a Region mapped into an AddressSpace.
type Section struct {
	Region                   *Region
	OffsetWithinRegion       uint64
	OffsetWithinAddressSpace uint64
	Size                     uint64
	ReadOnly                 bool
}

// Listener observes layout changes of an AddressSpace. Callbacks are invoked
// synchronously on the caller's thread, in registration order.
type Listener interface {
	RegionAdd(section *Section)
	RegionDel(section *Section)
}

// AddressSpace is an ordered set of sections describing one guest-observable
// physical memory layout.
type AddressSpace struct {
	name string

	// mu guards the section list. Translate holds it read-side so backing
	// regions cannot be dropped from the layout mid-resolution.
	mu        sync.RWMutex
	sections  []*Section
	listeners []Listener
}

func NewAddressSpace(name string) *AddressSpace {
	return &AddressSpace{name: name}
}

func (as *AddressSpace) Name() string {
	return as.name
}

// RegisterListener adds a listener and replays the current layout to it as a
// sequence of adds.
func (as *AddressSpace) RegisterListener(l Listener) {
	as.mu.Lock()
	as.listeners = append(as.listeners, l)
	sections := append([]*Section(nil), as.sections...)
	as.mu.Unlock()

	for _, s := range sections {
		l.RegionAdd(s)
	}
}

// UnregisterListener removes a listener. The current layout is not replayed
// as deletes; the listener's owner is expected to drop its derived state.
func (as *AddressSpace) UnregisterListener(l Listener) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i, registered := range as.listeners {
		if registered == l {
			as.listeners = append(as.listeners[:i], as.listeners[i+1:]...)
			return
		}
	}
}

// AddSection inserts a section into the layout and notifies listeners.
func (as *AddressSpace) AddSection(s *Section) {
	as.mu.Lock()
	as.sections = append(as.sections, s)
	listeners := append([]Listener(nil), as.listeners...)
	as.mu.Unlock()

	for _, l := range listeners {
		l.RegionAdd(s)
	}
}

// RemoveSection removes a section from the layout and notifies listeners.
func (as *AddressSpace) RemoveSection(s *Section) {
	as.mu.Lock()
	found := false
	for i, registered := range as.sections {
		if registered == s {
			as.sections = append(as.sections[:i], as.sections[i+1:]...)
			found = true
			break
		}
	}
	listeners := append([]Listener(nil), as.listeners...)
	as.mu.Unlock()

	if !found {
		return
	}
	for _, l := range listeners {
		l.RegionDel(s)
	}
}

// Translate resolves an address to its backing region, the offset within that
// region, and the contiguous length available from there. It runs under the
// read-side lock so the resolved region cannot be concurrently removed.
func (as *AddressSpace) Translate(addr uint64, write bool) (*Region, uint64, uint64, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	for _, s := range as.sections {
		if addr >= s.OffsetWithinAddressSpace && addr < s.OffsetWithinAddressSpace+s.Size {
			xlat := s.OffsetWithinRegion + (addr - s.OffsetWithinAddressSpace)
			avail := s.OffsetWithinAddressSpace + s.Size - addr
			return s.Region, xlat, avail, nil
		}
	}
	return nil, 0, 0, fmt.Errorf("no region maps address 0x%x in address space %s", addr, as.name)
}
