// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package pagecachedpkg serves the pages of cached documents over HTTP.
//
// Configuration is taken from the [PageCache] section (plus [Logging] and
// [TrackedLock] for the packages it brings up):
//
//   [PageCache]
//   PrivateIPAddr:            127.0.0.1
//   HTTPServerPort:           15350
//   HTTPServerMaxConnections: 128                 # 0 for no limit
//   DocumentRoot:             /var/lib/pagecache  # dirbackend documents live below here
//   DeliveryTimeout:          10s                 # how long a GET waits for its page
//
// Endpoints:
//
//   GET /config                                 the [PageCache] settings as JSON
//   GET /stats                                  bucketstats of every package
//   GET /document                               JSON list of open document URIs
//   GET /document/<docType>/<uri>[?page=<id>]   the page (default page if no id)
//
// A page response carries the page's mime type as Content-Type, its title in
// X-Page-Title, its navigation ids in X-Page-Root, X-Page-Prev, X-Page-Next
// and X-Page-Up, and an ETag honored via If-None-Match. Every response carries
// a fresh X-Request-Id that also tags the log lines of its request.
//
package pagecachedpkg

import (
	"github.com/NVIDIA/pagecache/conf"
)

// Start is called to start serving
//
func Start(confMap conf.ConfMap) (err error) {
	err = start(confMap)
	return
}

// Stop is called to stop serving
//
func Stop() (err error) {
	err = stop()
	return
}

// Signal is called to interrupt the server for performing operations such as
// re-reading log settings
//
func Signal() (err error) {
	err = signal()
	return
}
