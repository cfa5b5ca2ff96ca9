// Copyright 2022-2023 VMware, Inc.
//
// This product is licensed to you under the BSD-2 license (the "License").
// You may not use this product except in compliance with the BSD-2 License.
// This product may include a number of subcomponents with separate copyright
// notices and license terms. Your use of these subcomponents is subject to
// the terms and conditions of the subcomponent's license, as noted in the
// LICENSE file.
//
// SPDX-License-Identifier: BSD-2-Clause

package ngdp

import (
	"fmt"
	"strings"
)

// Generic NGDP constants
const (
	// Cache namespaces, matching the remote content directories.
	CONFIG = "config"
	DATA   = "data"
	PATCH  = "patch"
	CDNS   = "cdns"
)

// CDN describes one CDN presence from a /cdns manifest row: a region
// name, the content base path and the hosts serving it, in row order.
type CDN struct {
	Name  string
	Path  string
	Hosts []string
}

// CDNFromRow builds a CDN descriptor from a /cdns manifest row. The
// Hosts cell is space-separated; host order is preserved.
func CDNFromRow(row Row) CDN {
	return CDN{
		Name:  row["Name"],
		Path:  row["Path"],
		Hosts: strings.Fields(row["Hosts"]),
	}
}

// Version describes one /versions manifest row for a region. The
// BuildConfig and CDNConfig hashes reference config objects on the
// CDN; the parsed configs are populated when the version is yielded
// by the client.
type Version struct {
	Region          string
	BuildID         string
	VersionsName    string
	BuildConfigHash string
	CDNConfigHash   string

	BuildConfig *FlatINI
	CDNConfig   *FlatINI
}

// VersionFromRow builds a Version from a /versions manifest row,
// leaving the configs unresolved.
func VersionFromRow(row Row) Version {
	return Version{
		Region:          row["Region"],
		BuildID:         row["BuildId"],
		VersionsName:    row["VersionsName"],
		BuildConfigHash: row["BuildConfig"],
		CDNConfigHash:   row["CDNConfig"],
	}
}

// SplitHash splits a hex content hash into the two-then-four
// character prefixes used by the remote directory layout, returning
// (hash[0:2], hash[2:4], hash).
func SplitHash(hash string) (string, string, string, error) {
	if len(hash) < 4 {
		return "", "", "", ErrParse{Msg: fmt.Sprintf("content hash %q is too short to shard", hash)}
	}
	return hash[0:2], hash[2:4], hash, nil
}
