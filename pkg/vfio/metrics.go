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

import "github.com/prometheus/client_golang/prometheus"

var (
	dmaMaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubevirt_vfio_dma_map_requests_total",
			Help: "Host IOMMU DMA map requests issued.",
		},
	)
	dmaUnmaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubevirt_vfio_dma_unmap_requests_total",
			Help: "Host IOMMU DMA unmap requests issued.",
		},
	)
	dmaBusyRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubevirt_vfio_dma_map_busy_retries_total",
			Help: "DMA map requests retried after a busy response from the host.",
		},
	)
)

func init() {
	prometheus.MustRegister(dmaMaps, dmaUnmaps, dmaBusyRetries)
}
