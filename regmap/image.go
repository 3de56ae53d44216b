// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regmap projects parameter sets onto the fixed register image
// written verbatim into the configuration space of a RedPitaya CBC board.
package regmap // import "github.com/go-lpc/rpcbc/regmap"

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// NumParams is the number of 32-bit parameter registers.
	NumParams = 14

	// ImageSize is the size in bytes of an encoded register image.
	ImageSize = 4 + 4*NumParams

	// ChannelParams is the number of parameter registers of one channel.
	ChannelParams = NumParams / 2
)

// Bits of the system register.
const (
	SysTrigger    uint8 = 1 << 0
	SysContinuous uint8 = 1 << 1
	SysSlowRate   uint8 = 1 << 2
)

// Image is a register image.
//
// The wire layout is packed little-endian, in field order:
//
//	system        u8
//	CH1_settings  u8
//	CH2_settings  u8
//	CBC_settings  u8
//	Parameter_A   i32
//	...
//	Parameter_N   i32
type Image struct {
	System uint8
	CH1    uint8
	CH2    uint8
	CBC    uint8
	Params [NumParams]int32
}

var names = func() []string {
	names := []string{"system", "CH1_settings", "CH2_settings", "CBC_settings"}
	for i := 0; i < NumParams; i++ {
		names = append(names, "Parameter_"+string(rune('A'+i)))
	}
	return names
}()

// Names returns the register names, in wire order.
func Names() []string {
	return append([]string(nil), names...)
}

// Register returns the value of the named register.
func (img Image) Register(name string) (int32, error) {
	switch name {
	case "system":
		return int32(img.System), nil
	case "CH1_settings":
		return int32(img.CH1), nil
	case "CH2_settings":
		return int32(img.CH2), nil
	case "CBC_settings":
		return int32(img.CBC), nil
	}
	if id, ok := strings.CutPrefix(name, "Parameter_"); ok && len(id) == 1 {
		i := int(id[0]) - 'A'
		if 0 <= i && i < NumParams {
			return img.Params[i], nil
		}
	}
	return 0, fmt.Errorf("regmap: unknown register %q", name)
}

// Trigger returns whether the trigger bit is set.
func (img Image) Trigger() bool {
	return img.System&SysTrigger != 0
}

// WithTrigger returns a copy of the image with the trigger bit set to v.
func (img Image) WithTrigger(v bool) Image {
	if v {
		img.System |= SysTrigger
	} else {
		img.System &^= SysTrigger
	}
	return img
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (img Image) MarshalBinary() ([]byte, error) {
	return img.AppendBinary(make([]byte, 0, ImageSize))
}

// AppendBinary appends the wire encoding of the image to buf.
func (img Image) AppendBinary(buf []byte) ([]byte, error) {
	buf = append(buf, img.System, img.CH1, img.CH2, img.CBC)
	for _, v := range img.Params {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (img *Image) UnmarshalBinary(p []byte) error {
	if len(p) != ImageSize {
		return fmt.Errorf("regmap: invalid image size (got=%d, want=%d)", len(p), ImageSize)
	}
	img.System = p[0]
	img.CH1 = p[1]
	img.CH2 = p[2]
	img.CBC = p[3]
	p = p[4:]
	for i := range img.Params {
		img.Params[i] = int32(binary.LittleEndian.Uint32(p[4*i:]))
	}
	return nil
}

func (img Image) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "system=0x%02x CH1=0x%02x CH2=0x%02x CBC=0x%02x",
		img.System, img.CH1, img.CH2, img.CBC,
	)
	for i, v := range img.Params {
		fmt.Fprintf(o, " %c=%d", 'A'+i, v)
	}
	return o.String()
}
