// Copyright (C) 2024-2026  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// You can also Link and Combine this program with other software covered by
// the terms of any of the Free Software licenses or any of the Open Source
// Initiative approved licenses and Convey the resulting work. Corresponding
// source of such a combination shall include the source code for all other
// software used.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.
// See https://www.nexedi.com/licensing for rationale and options.

package mctpctrl

import "sort"

// Version is one DSP0236 Table 18 version entry: four BCD-encoded
// digit-pairs (major/minor/update/alpha), each byte holding two 4-bit
// BCD digits where 0x0F in either nibble means "any".
type Version struct {
	Major, Minor, Update, Alpha uint8
}

// Versions is a two-axis version registry keyed by MCTP message type —
// the Go rendition of the original library's intrusive doubly-linked
// mctp_version list (next_entry within a type, next_type across
// types). A map from type to an ordered slice gives the same query
// shape (all versions supported for a given type, in rank order)
// without hand-rolled list pointers.
type Versions struct {
	byType map[uint8][]Version
}

// NewVersions returns an empty registry.
func NewVersions() *Versions {
	return &Versions{byType: make(map[uint8][]Version)}
}

// Add registers v as supported for typ, keeping that type's slice
// sorted by CompareVersion.
func (r *Versions) Add(typ uint8, v Version) {
	list := r.byType[typ]
	i := sort.Search(len(list), func(i int) bool {
		return CompareVersion(list[i], v) >= 0
	})
	if i < len(list) && CompareVersion(list[i], v) == 0 {
		list[i] = v
		return
	}
	list = append(list, Version{})
	copy(list[i+1:], list[i:])
	list[i] = v
	r.byType[typ] = list
}

// For returns the ordered list of versions supported for typ.
func (r *Versions) For(typ uint8) []Version {
	return r.byType[typ]
}

// digitCompare ranks two BCD digits: equal digits compare equal; 0xF
// ("any") ranks below every concrete digit; otherwise numeric order.
func digitCompare(lhs, rhs uint8) int {
	switch {
	case lhs == rhs:
		return 0
	case lhs == 0x0f:
		return -1
	case rhs == 0x0f:
		return 1
	case lhs < rhs:
		return -1
	default:
		return 1
	}
}

// CompareVersion orders two Versions digit-pair by digit-pair (major
// high nibble, major low nibble, minor high, minor low, update high,
// update low, then alpha), the Go rendition of the original library's
// vercmp/dgtcmp. Returns -1/0/+1 as lhs compares before/equal/after rhs.
func CompareVersion(lhs, rhs Version) int {
	pairs := [][2]uint8{
		{lhs.Major >> 4, rhs.Major >> 4},
		{lhs.Major & 0x0f, rhs.Major & 0x0f},
		{lhs.Minor >> 4, rhs.Minor >> 4},
		{lhs.Minor & 0x0f, rhs.Minor & 0x0f},
		{lhs.Update >> 4, rhs.Update >> 4},
		{lhs.Update & 0x0f, rhs.Update & 0x0f},
	}
	for _, p := range pairs {
		if c := digitCompare(p[0], p[1]); c != 0 {
			return c
		}
	}
	return digitCompare(lhs.Alpha, rhs.Alpha)
}
