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

import "sync"

// Perm is the access permission carried by a guest IOMMU translation.
type Perm uint8

const (
	PermNone  Perm = 0
	PermRead  Perm = 1 << 0
	PermWrite Perm = 1 << 1
	PermRW    Perm = PermRead | PermWrite
)

// TLBEntry is one guest IOMMU translation update. AddrMask is the low-bit
// mask of the translated range, so the range covers AddrMask+1 bytes.
// PermNone invalidates the range.
type TLBEntry struct {
	IOVA           uint64
	AddrMask       uint64
	TranslatedAddr uint64
	Perm           Perm
}

// Notifier receives guest IOMMU translation updates. The struct identity is
// what registration tracks, so the same Notifier pointer must be used for
// register and unregister.
type Notifier struct {
	Notify func(TLBEntry)
}

// IOMMU is the translation state of a guest-exposed IOMMU region: the set of
// currently valid translations plus the registered notifiers.
type IOMMU struct {
	mu        sync.Mutex
	entries   []TLBEntry
	notifiers []*Notifier
}

func newIOMMU() *IOMMU {
	return &IOMMU{}
}

// RegisterNotifier subscribes n to translation updates.
func (i *IOMMU) RegisterNotifier(n *Notifier) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notifiers = append(i.notifiers, n)
}

// UnregisterNotifier removes n.
func (i *IOMMU) UnregisterNotifier(n *Notifier) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, registered := range i.notifiers {
		if registered == n {
			i.notifiers = append(i.notifiers[:idx], i.notifiers[idx+1:]...)
			return
		}
	}
}

// Notifiers returns the number of registered notifiers.
func (i *IOMMU) Notifiers() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.notifiers)
}

// Issue publishes a translation update: valid permissions record the entry
// (replacing any entry for the same IOVA), PermNone drops entries overlapping
// the invalidated range. All notifiers see the update synchronously.
func (i *IOMMU) Issue(entry TLBEntry) {
	i.mu.Lock()
	if entry.Perm == PermNone {
		kept := i.entries[:0]
		for _, e := range i.entries {
			if e.IOVA+e.AddrMask < entry.IOVA || e.IOVA > entry.IOVA+entry.AddrMask {
				kept = append(kept, e)
			}
		}
		i.entries = kept
	} else {
		replaced := false
		for idx, e := range i.entries {
			if e.IOVA == entry.IOVA {
				i.entries[idx] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			i.entries = append(i.entries, entry)
		}
	}
	notifiers := append([]*Notifier(nil), i.notifiers...)
	i.mu.Unlock()

	for _, n := range notifiers {
		n.Notify(entry)
	}
}

// Replay re-delivers every currently valid translation to n, split into
// pagesize-sized pieces so the receiver never sees a range coarser than its
// own granularity.
func (i *IOMMU) Replay(n *Notifier, pagesize uint64) {
	i.mu.Lock()
	entries := append([]TLBEntry(nil), i.entries...)
	i.mu.Unlock()

	for _, e := range entries {
		size := e.AddrMask + 1
		if size <= pagesize {
			n.Notify(e)
			continue
		}
		for off := uint64(0); off < size; off += pagesize {
			n.Notify(TLBEntry{
				IOVA:           e.IOVA + off,
				AddrMask:       pagesize - 1,
				TranslatedAddr: e.TranslatedAddr + off,
				Perm:           e.Perm,
			})
		}
	}
}
