// Package compress wraps zstd with the page-sized framing and the adaptive
// level policy used by the worker write-back path.
package compress

import (
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Level bounds for the adaptive policy. Levels are zstd compression levels.
const (
	DefaultMinLevel = 1
	DefaultMaxLevel = 9
)

// adaptiveThreshold is the compressed/raw ratio above which the next page is
// considered hard to compress and gets the maximum level.
const adaptiveThreshold = 0.8

// Codec compresses and decompresses single pages. Encoders are built once
// per level at construction; Compress and Decompress are safe for concurrent
// use (EncodeAll/DecodeAll are stateless on the shared coder).
type Codec struct {
	pageSize int
	minLevel int
	maxLevel int
	encoders map[int]*zstd.Encoder
	decoder  *zstd.Decoder
}

// NewCodec builds a codec for pageSize-byte pages with encoders for minLevel,
// maxLevel, and whichever of the entropy-variant levels (1, 3, 5) fall inside
// that range. Other levels in between get no encoder of their own.
func NewCodec(pageSize, minLevel, maxLevel int) (*Codec, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("compress: page size %d", pageSize)
	}
	if minLevel < 1 || maxLevel < minLevel {
		return nil, fmt.Errorf("compress: bad level range [%d, %d]", minLevel, maxLevel)
	}

	c := &Codec{
		pageSize: pageSize,
		minLevel: minLevel,
		maxLevel: maxLevel,
		encoders: make(map[int]*zstd.Encoder),
	}

	levels := []int{minLevel, maxLevel, 1, 3, 5}
	for _, lvl := range levels {
		if lvl < minLevel || lvl > maxLevel {
			continue
		}
		if _, ok := c.encoders[lvl]; ok {
			continue
		}
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(lvl)),
			zstd.WithEncoderConcurrency(1),
			zstd.WithZeroFrames(true))
		if err != nil {
			return nil, fmt.Errorf("compress: building level-%d encoder: %w", lvl, err)
		}
		c.encoders[lvl] = enc
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("compress: building decoder: %w", err)
	}
	c.decoder = dec

	return c, nil
}

// PageSize returns the page size the codec was built for.
func (c *Codec) PageSize() int { return c.pageSize }

// Compress appends the compressed form of src to dst and returns the result.
// src must be exactly one page. Level 0 selects the entropy-driven level;
// other levels are clamped to the codec's range.
func (c *Codec) Compress(dst, src []byte, level int) ([]byte, error) {
	if len(src) != c.pageSize {
		return nil, fmt.Errorf("compress: input is %d bytes, want %d", len(src), c.pageSize)
	}
	if level == 0 {
		level = EntropyLevel(src)
	}
	if level < c.minLevel {
		level = c.minLevel
	}
	if level > c.maxLevel {
		level = c.maxLevel
	}
	enc, ok := c.encoders[level]
	if !ok {
		// Levels between min and max that were not pre-built snap to the
		// min or max encoder, whichever bound is closer (ties go to min).
		if level <= (c.minLevel+c.maxLevel)/2 {
			enc = c.encoders[c.minLevel]
		} else {
			enc = c.encoders[c.maxLevel]
		}
	}
	return enc.EncodeAll(src, dst), nil
}

// Decompress appends the decompressed form of src to dst and returns the
// result. The output must be exactly one page.
func (c *Codec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compress: decoding page: %w", err)
	}
	if len(out)-len(dst) != c.pageSize {
		return nil, fmt.Errorf("compress: decoded %d bytes, want %d", len(out)-len(dst), c.pageSize)
	}
	return out, nil
}

// EntropyLevel picks a level from the Shannon entropy of src: low-entropy
// pages compress well at cheap levels, near-random pages get more effort.
func EntropyLevel(src []byte) int {
	if len(src) == 0 {
		return 1
	}
	var freq [256]int
	for _, b := range src {
		freq[b]++
	}
	var h float64
	n := float64(len(src))
	for _, f := range freq {
		if f == 0 {
			continue
		}
		p := float64(f) / n
		h -= p * math.Log2(p)
	}
	switch {
	case h < 4:
		return 1
	case h < 6:
		return 3
	default:
		return 5
	}
}

// LevelPicker implements the ratio-feedback policy: a page that compressed
// poorly (ratio above the threshold) raises the next page's level to the
// maximum, anything else drops it to the minimum. The initial previous size
// is one full page, so the first pick is the maximum level.
type LevelPicker struct {
	pageSize int
	min      int
	max      int
	prev     int
}

// NewLevelPicker returns a picker over [min, max] for pageSize-byte pages.
func NewLevelPicker(pageSize, min, max int) *LevelPicker {
	return &LevelPicker{pageSize: pageSize, min: min, max: max, prev: pageSize}
}

// Level returns the level for the next page.
func (p *LevelPicker) Level() int {
	if float64(p.prev)/float64(p.pageSize) > adaptiveThreshold {
		return p.max
	}
	return p.min
}

// Observe records the compressed size of the page just written.
func (p *LevelPicker) Observe(compressedLen int) {
	p.prev = compressedLen
}
