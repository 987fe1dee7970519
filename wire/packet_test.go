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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketHeaderFields(t *testing.T) {
	var p Packet
	p.SetHdrVersion(1)
	p.SetDest(0x02)
	p.SetSrc(0x01)
	p.SetSOM(true)
	p.SetEOM(false)
	p.SetTag(5)
	p.SetTagOwner(true)
	p.SetSeq(3)

	require.EqualValues(t, 1, p.HdrVersion())
	require.EqualValues(t, 0x02, p.Dest())
	require.EqualValues(t, 0x01, p.Src())
	require.True(t, p.SOM())
	require.False(t, p.EOM())
	require.EqualValues(t, 5, p.Tag())
	require.True(t, p.TagOwner())
	require.EqualValues(t, 3, p.Seq())
}

func TestPacketBitfieldsDoNotClobberEachOther(t *testing.T) {
	var p Packet
	p.SetSOM(true)
	p.SetEOM(true)
	p.SetTag(7)
	p.SetTagOwner(true)
	p.SetSeq(3)

	p.SetSeq(0)
	require.True(t, p.SOM())
	require.True(t, p.EOM())
	require.EqualValues(t, 7, p.Tag())
	require.True(t, p.TagOwner())
	require.EqualValues(t, 0, p.Seq())

	p.SetTagOwner(false)
	require.True(t, p.SOM())
	require.True(t, p.EOM())
	require.EqualValues(t, 7, p.Tag())
	require.False(t, p.TagOwner())
}

func TestPacketPayloadLength(t *testing.T) {
	var p Packet
	require.Len(t, p.Payload(), BTULen)
	require.Equal(t, PacketLen, HeaderLen+BTULen)
}
