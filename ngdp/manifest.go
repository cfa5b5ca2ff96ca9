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

// Column is one typed header cell of a patch-server manifest. Only
// Name is used to key row values; Type and Size come along from the
// wire ("Name!STRING:0") and are kept so callers can rely on the full
// column set.
type Column struct {
	Name string
	Type string
	Size string
}

// Row maps column names to the values of one manifest line.
type Row map[string]string

// Manifest is a parsed pipe-delimited patch-server response such as
// /cdns or /versions. Row order follows the response; filtering is
// the caller's business.
type Manifest struct {
	Columns []Column
	Rows    []Row
}

// ParseManifest parses pipe-delimited manifest text. The first line
// is the typed header; every following non-empty line must have
// exactly one field per column.
func ParseManifest(data []byte) (*Manifest, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, ErrParse{Msg: "manifest has no header line"}
	}
	m := &Manifest{}
	for _, cell := range strings.Split(lines[0], "|") {
		m.Columns = append(m.Columns, parseColumn(cell))
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Sequence numbers and other annotations start with '#'.
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != len(m.Columns) {
			return nil, ErrParse{Msg: fmt.Sprintf("manifest row has %d fields, header has %d columns", len(fields), len(m.Columns))}
		}
		row := make(Row, len(m.Columns))
		for i, field := range fields {
			row[m.Columns[i].Name] = field
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

// parseColumn splits a "name!type:size" header cell. Cells without
// type annotations keep empty Type/Size.
func parseColumn(cell string) Column {
	name, rest, found := strings.Cut(cell, "!")
	col := Column{Name: strings.TrimSpace(name)}
	if !found {
		return col
	}
	col.Type, col.Size, _ = strings.Cut(rest, ":")
	return col
}
