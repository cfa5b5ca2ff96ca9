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

// FlatINI is an ordered key/value mapping where a repeated key
// accumulates values instead of overwriting the previous one. NGDP
// build and CDN configs are published in this format and legitimately
// repeat keys (archive groups, for example), so losing repeats would
// corrupt reference resolution downstream.
type FlatINI struct {
	entries []flatEntry
	index   map[string]int
}

type flatEntry struct {
	key    string
	values []string
}

// Item is a single flattened (key, value) pair.
type Item struct {
	Key   string
	Value string
}

// NewFlatINI returns an empty config.
func NewFlatINI() *FlatINI {
	return &FlatINI{index: map[string]int{}}
}

// ParseFlatINI parses the "flat ini" wire format: one "key = value"
// per line, '#' comment lines and blank lines skipped, keys split on
// the first '=' with surrounding whitespace trimmed.
func ParseFlatINI(data []byte) (*FlatINI, error) {
	f := NewFlatINI()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, ErrParse{Msg: fmt.Sprintf("config line %q has no '='", line)}
		}
		f.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return f, nil
}

// Set appends value under key. The first occurrence of a key creates
// the entry at the current end of the iteration order; repeats
// accumulate on the existing entry and keep its position.
func (f *FlatINI) Set(key, value string) {
	if i, ok := f.index[key]; ok {
		f.entries[i].values = append(f.entries[i].values, value)
		return
	}
	f.index[key] = len(f.entries)
	f.entries = append(f.entries, flatEntry{key: key, values: []string{value}})
}

// Get returns the first value stored under key.
func (f *FlatINI) Get(key string) (string, bool) {
	i, ok := f.index[key]
	if !ok {
		return "", false
	}
	return f.entries[i].values[0], true
}

// All returns every value stored under key, in insertion order.
func (f *FlatINI) All(key string) []string {
	i, ok := f.index[key]
	if !ok {
		return nil
	}
	return f.entries[i].values
}

// Keys returns the distinct keys in iteration order.
func (f *FlatINI) Keys() []string {
	keys := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// Len returns the number of distinct keys.
func (f *FlatINI) Len() int {
	return len(f.entries)
}

// Items returns the flattened (key, value) pairs in file order; a
// repeated key contributes one pair per value.
func (f *FlatINI) Items() []Item {
	var items []Item
	for _, e := range f.entries {
		for _, v := range e.values {
			items = append(items, Item{Key: e.key, Value: v})
		}
	}
	return items
}

// String serializes the config as one "key = value" line per
// flattened pair, the inverse of the accumulate-on-repeat rule.
func (f *FlatINI) String() string {
	var b strings.Builder
	for i, item := range f.Items() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s = %s", item.Key, item.Value)
	}
	return b.String()
}
