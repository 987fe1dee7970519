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

package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagTableLowestFreeOrdering(t *testing.T) {
	var tt tagTable

	require.Equal(t, 0, tt.lowestFree())

	tt.slot[0] = &Action{}
	tt.slot[1] = &Action{}
	require.Equal(t, 2, tt.lowestFree())

	tt.slot[2] = &Action{}
	tt.slot[4] = &Action{}
	require.Equal(t, 3, tt.lowestFree())

	for i := range tt.slot {
		tt.slot[i] = &Action{}
	}
	require.Equal(t, -1, tt.lowestFree())
}

func TestTagTableTakeClearsSlotOnce(t *testing.T) {
	var tt tagTable
	a := &Action{Tag: 3}
	tt.slot[3] = a

	got := tt.take(3)
	require.Same(t, a, got)

	require.Nil(t, tt.take(3))
}
