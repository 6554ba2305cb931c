// Package ui provides the user-facing shells for the DataGate shell.
// This file contains icon generation utilities for the system tray.
package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/yllada/datagate-shell/common"
)

// IconSymbol is the glyph drawn on top of the shield.
type IconSymbol int

const (
	SymbolLock IconSymbol = iota
	SymbolCheckmark
	SymbolDots
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	AccentColor color.RGBA
	SymbolColor color.RGBA
	Symbol      IconSymbol
}

// IconConfigFor returns the icon palette for a connection state.
func IconConfigFor(status common.ConnectionStatus) IconConfig {
	white := color.RGBA{255, 255, 255, 255}
	switch status {
	case common.StatusConnected:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{56, 142, 60, 255},
			BorderColor: color.RGBA{76, 175, 80, 255},
			AccentColor: color.RGBA{200, 230, 201, 255},
			SymbolColor: white,
			Symbol:      SymbolCheckmark,
		}
	case common.StatusConnecting, common.StatusDisconnecting:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{229, 165, 10, 255},
			BorderColor: color.RGBA{245, 194, 17, 255},
			AccentColor: color.RGBA{249, 240, 107, 255},
			SymbolColor: white,
			Symbol:      SymbolDots,
		}
	default:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{117, 117, 117, 255},
			BorderColor: color.RGBA{158, 158, 158, 255},
			AccentColor: color.RGBA{189, 189, 189, 255},
			SymbolColor: white,
			Symbol:      SymbolLock,
		}
	}
}

// IconGenerator generates PNG icons for the system tray.
type IconGenerator struct {
	config IconConfig
}

// NewIconGenerator creates a new icon generator with the given config.
func NewIconGenerator(config IconConfig) *IconGenerator {
	return &IconGenerator{config: config}
}

// Generate creates a PNG icon and returns the bytes.
func (g *IconGenerator) Generate() []byte {
	size := g.config.Size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	g.drawShield(img)

	switch g.config.Symbol {
	case SymbolCheckmark:
		g.drawCheckmark(img)
	case SymbolDots:
		g.drawDots(img)
	default:
		g.drawLock(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		common.LogWarn("Failed to encode tray icon: %v", err)
		return nil
	}
	return buf.Bytes()
}

// drawShield draws the shield shape on the image.
func (g *IconGenerator) drawShield(img *image.RGBA) {
	size := g.config.Size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	inside := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}

		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}
		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !inside(fx, fy) {
				continue
			}
			border := !inside(fx-1, fy) || !inside(fx+1, fy) ||
				!inside(fx, fy-1) || !inside(fx, fy+1)
			switch {
			case border:
				img.Set(x, y, g.config.BorderColor)
			case float64(y)/float64(size) < 0.3:
				img.Set(x, y, g.config.AccentColor)
			default:
				img.Set(x, y, g.config.FillColor)
			}
		}
	}
}

func (g *IconGenerator) set(img *image.RGBA, x, y int) {
	if x >= 0 && x < g.config.Size && y >= 0 && y < g.config.Size {
		img.Set(x, y, g.config.SymbolColor)
	}
}

func (g *IconGenerator) drawCheckmark(img *image.RGBA) {
	points := []struct{ x, y int }{
		{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
		{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
		{12, 9}, {13, 9}, {13, 8}, {14, 8},
	}
	for _, p := range points {
		g.set(img, p.x, p.y)
	}
}

// drawDots draws three dots, the "working" glyph for transitions.
func (g *IconGenerator) drawDots(img *image.RGBA) {
	for _, cx := range []int{7, 11, 15} {
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				g.set(img, cx+dx-1, 10+dy)
			}
		}
	}
}

func (g *IconGenerator) drawLock(img *image.RGBA) {
	// body
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				g.set(img, x, y)
			}
		}
	}
	// shackle
	for y := 6; y <= 8; y++ {
		g.set(img, 9, y)
		g.set(img, 13, y)
	}
	for x := 9; x <= 13; x++ {
		g.set(img, x, 6)
	}
}

var (
	iconMu    sync.Mutex
	iconCache = make(map[common.ConnectionStatus][]byte)
)

// StatusIcon returns the cached PNG tray icon for a connection state.
func StatusIcon(status common.ConnectionStatus) []byte {
	iconMu.Lock()
	defer iconMu.Unlock()
	if icon, ok := iconCache[status]; ok {
		return icon
	}
	icon := NewIconGenerator(IconConfigFor(status)).Generate()
	iconCache[status] = icon
	return icon
}
