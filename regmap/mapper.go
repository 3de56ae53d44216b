// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regmap

import (
	"fmt"

	"github.com/go-lpc/rpcbc/params"
)

// Map projects the parameter set of output channel ch (1 or 2) onto a
// register image. CH1 owns Parameter_A..G, CH2 owns Parameter_H..N.
func Map(ch int, set *params.Channel, sys *params.System) (Image, error) {
	img := Image{System: SystemByte(sys)}
	err := mapChannel(&img, ch, set, sys)
	if err != nil {
		return Image{}, err
	}
	return img, nil
}

func mapChannel(img *Image, ch int, set *params.Channel, sys *params.System) error {
	mode := set.Mode()
	if int(mode) >= len(channelTables) || channelTables[mode] == nil {
		return fmt.Errorf("%w %v on channel %d", ErrUnsupportedMode, mode, ch)
	}

	var (
		base int
		reg  *uint8
	)
	switch ch {
	case 1:
		base, reg = 0, &img.CH1
	case 2:
		base, reg = ChannelParams, &img.CH2
	default:
		return fmt.Errorf("regmap: invalid output channel %d", ch)
	}

	err := channelTables[mode].fill(
		img.Params[base:base+ChannelParams], base,
		env{set: set, sys: sys},
	)
	if err != nil {
		return fmt.Errorf("regmap: could not map channel %d (%v): %w", ch, mode, err)
	}
	*reg = ChannelSettingsByte(mode, set.InputChannel())
	return nil
}

// MapCBC projects a CBC parameter set onto a register image.
// Both channel settings registers carry the off mode with input 1, which
// hands the outputs over to the CBC controller.
func MapCBC(set *params.CBC, sys *params.System) (Image, error) {
	img := Image{
		System: SystemByte(sys),
		CH1:    ChannelSettingsByte(params.Off, 1),
		CH2:    ChannelSettingsByte(params.Off, 1),
		CBC:    CBCSettingsByte(set),
	}
	err := cbcTable.fill(img.Params[:], 0, env{set: set, sys: sys})
	if err != nil {
		return Image{}, fmt.Errorf("regmap: could not map CBC: %w", err)
	}
	return img, nil
}

// Project derives the complete register image of a configuration.
// The trigger bit is cleared.
func Project(cfg params.Config) (Image, error) {
	if cfg.CBCEnabled {
		return MapCBC(cfg.CBC, cfg.System)
	}

	img := Image{
		System: SystemByte(cfg.System),
		CBC:    CBCSettingsByte(cfg.CBC),
	}
	for i, ch := range []*params.Channel{cfg.CH1, cfg.CH2} {
		err := mapChannel(&img, i+1, ch, cfg.System)
		if err != nil {
			return Image{}, err
		}
	}
	return img, nil
}
