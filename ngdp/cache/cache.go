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

package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hearthsim/keg/ngdp"
)

// Cache is a content-addressed byte store on the local filesystem.
// Entries are keyed by (namespace, name) where the namespace groups
// the content kind ("config", "data", "patch", "cdns") and the name
// is normally a hex content hash, occasionally with a suffix such as
// "<hash>.index".
//
// The on-disk layout is flat: <basedir>/<domain>/<namespace>/<name>,
// without the two-then-four character hash sharding the remote CDN
// uses. Presence of a file is treated as validity; the cache never
// evicts.
type Cache struct {
	domain  string
	basedir string
}

// New creates a cache rooted at basedir for the given domain. The
// domain acts as the cache's namespace root so multiple clients can
// share one base directory. basedir must be supplied by the caller;
// environment or user-cache-dir lookups belong to the bootstrap
// layer.
func New(domain, basedir string) *Cache {
	return &Cache{domain: domain, basedir: basedir}
}

// Path returns the file path for (namespace, name). It is a pure
// function of the cache's construction arguments and its inputs.
func (c *Cache) Path(namespace, name string) string {
	return filepath.Join(c.basedir, c.domain, namespace, name)
}

// Contains reports whether an entry exists for (namespace, name).
func (c *Cache) Contains(namespace, name string) bool {
	_, err := os.Stat(c.Path(namespace, name))
	return err == nil
}

// Read returns the bytes stored under (namespace, name), or
// ErrNotFound if the entry is absent.
func (c *Cache) Read(namespace, name string) ([]byte, error) {
	data, err := os.ReadFile(c.Path(namespace, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ngdp.ErrNotFound{Namespace: namespace, Name: name}
		}
		return nil, fmt.Errorf("error reading cache entry %s/%s: %w", namespace, name, err)
	}
	return data, nil
}

// Write persists data under (namespace, name) atomically: the bytes
// go to a temporary sibling file which is then renamed into place, so
// a concurrent reader never observes a partial entry and concurrent
// writers of the same key cannot corrupt it.
func (c *Cache) Write(namespace, name string, data []byte) error {
	dir := filepath.Join(c.basedir, c.domain, namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating cache directory %s: %w", dir, err)
	}
	// create a temporary file next to the final location so the
	// rename stays on one filesystem
	file, err := os.CreateTemp(dir, "keg_tmp")
	if err != nil {
		return err
	}
	// write the data content to the temporary file
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return err
	}
	// if all okay, rename the temporary file to the desired one
	if err := os.Rename(file.Name(), c.Path(namespace, name)); err != nil {
		os.Remove(file.Name())
		return err
	}
	ngdp.GetLogger().Info("Written cache entry", "namespace", namespace, "name", name, "bytes", len(data))
	return nil
}
