package geometry

import (
	"fmt"
)

// RLE is a binary mask stored as column-major run lengths. Runs alternate
// between background and foreground and always start with background, so
// Counts[0] may be zero.
type RLE struct {
	Height int      `json:"h"`
	Width  int      `json:"w"`
	Counts []uint32 `json:"counts"`
}

// DecodeRLEString parses the compact string form used by COCO annotation
// files: each count is a little-endian sequence of 5-bit groups offset by
// 48, and counts after the second are stored as deltas of the count two
// positions back.
func DecodeRLEString(height, width int, s string) (RLE, error) {
	counts := make([]uint32, 0, len(s)/2)
	abs := make([]int64, 0, len(s)/2)
	p := 0
	for p < len(s) {
		var x int64
		k := 0
		more := true
		for more {
			if p >= len(s) {
				return RLE{}, fmt.Errorf("rle: truncated count at offset %d", p)
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return RLE{}, fmt.Errorf("rle: invalid byte %q at offset %d", s[p], p)
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		m := len(abs)
		if m > 2 {
			x += abs[m-2]
		}
		if x < 0 {
			return RLE{}, fmt.Errorf("rle: negative run length at count %d", m)
		}
		abs = append(abs, x)
		counts = append(counts, uint32(x))
	}
	r := RLE{Height: height, Width: width, Counts: counts}
	if err := r.validate(); err != nil {
		return RLE{}, err
	}
	return r, nil
}

// String encodes r in the compact COCO string form.
func (r RLE) String() string {
	buf := make([]byte, 0, len(r.Counts)*2)
	for i, c := range r.Counts {
		x := int64(c)
		if i > 2 {
			x -= int64(r.Counts[i-2])
		}
		more := true
		for more {
			b := x & 0x1f
			x >>= 5
			if b&0x10 != 0 {
				more = x != -1
			} else {
				more = x != 0
			}
			if more {
				b |= 0x20
			}
			buf = append(buf, byte(b+48))
		}
	}
	return string(buf)
}

// FromBitmap encodes a row-major bitmap of height x width pixels.
func FromBitmap(height, width int, pixels []bool) RLE {
	counts := make([]uint32, 0, 8)
	var run uint32
	current := false
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			v := pixels[y*width+x]
			if v != current {
				counts = append(counts, run)
				run = 0
				current = v
			}
			run++
		}
	}
	counts = append(counts, run)
	return RLE{Height: height, Width: width, Counts: counts}
}

func (r RLE) validate() error {
	var total uint64
	for _, c := range r.Counts {
		total += uint64(c)
	}
	if total != uint64(r.Height)*uint64(r.Width) {
		return fmt.Errorf("rle: runs cover %d pixels, mask is %dx%d", total, r.Height, r.Width)
	}
	return nil
}

// Area returns the number of foreground pixels.
func (r RLE) Area() float64 {
	var a uint64
	for i := 1; i < len(r.Counts); i += 2 {
		a += uint64(r.Counts[i])
	}
	return float64(a)
}

// BBox returns the tight pixel bounding box (x, y, w, h) of the foreground.
// An empty mask returns all zeros.
func (r RLE) BBox() (x, y, w, h float64) {
	m := len(r.Counts) / 2 * 2
	if m == 0 || r.Height == 0 {
		return 0, 0, 0, 0
	}
	hgt := uint64(r.Height)
	xs, ys := uint64(r.Width), hgt
	var xe, ye, cc, xp uint64
	for j := 0; j < m; j++ {
		cc += uint64(r.Counts[j])
		t := cc - uint64(j%2)
		py := t % hgt
		px := (t - py) / hgt
		if j%2 == 0 {
			xp = px
		} else if xp < px {
			ys = 0
			ye = hgt - 1
		}
		xs = min(xs, px)
		xe = max(xe, px)
		ys = min(ys, py)
		ye = max(ye, py)
	}
	return float64(xs), float64(ys), float64(xe - xs + 1), float64(ye - ys + 1)
}

// NormalizedBox returns the mask's bounding box in center/size form,
// normalized by the mask dimensions.
func (r RLE) NormalizedBox() Box {
	if r.Width == 0 || r.Height == 0 {
		return Box{}
	}
	x, y, w, h := r.BBox()
	fw, fh := float64(r.Width), float64(r.Height)
	return Box{
		CX: (x + w/2) / fw,
		CY: (y + h/2) / fh,
		W:  w / fw,
		H:  h / fh,
	}
}

// intersectionArea walks both run sequences in lockstep.
func intersectionArea(a, b RLE) float64 {
	var inter uint64
	ia, ib := 0, 0
	var ra, rb uint32
	var fa, fb bool
	next := func(r RLE, i *int, run *uint32, fg *bool) bool {
		for *i < len(r.Counts) {
			*run = r.Counts[*i]
			*fg = *i%2 == 1
			*i++
			if *run > 0 {
				return true
			}
		}
		return false
	}
	okA := next(a, &ia, &ra, &fa)
	okB := next(b, &ib, &rb, &fb)
	for okA && okB {
		step := min(ra, rb)
		if fa && fb {
			inter += uint64(step)
		}
		ra -= step
		rb -= step
		if ra == 0 {
			okA = next(a, &ia, &ra, &fa)
		}
		if rb == 0 {
			okB = next(b, &ib, &rb, &fb)
		}
	}
	return float64(inter)
}

// MaskIoU has the same semantics as IoU for masks of equal size.
func MaskIoU(a, b RLE, crowd bool) (float64, error) {
	if a.Height != b.Height || a.Width != b.Width {
		return 0, fmt.Errorf("mask size mismatch: %dx%d vs %dx%d", a.Height, a.Width, b.Height, b.Width)
	}
	inter := intersectionArea(a, b)
	union := a.Area() + b.Area() - inter
	if crowd {
		union = a.Area()
	}
	return inter / (union + Epsilon), nil
}

// MaskIoUMatrix is the mask variant of IoUMatrix.
func MaskIoUMatrix(a, b []RLE, crowd []bool) ([][]float64, error) {
	out := make([][]float64, len(a))
	flat := make([]float64, len(a)*len(b))
	for i := range a {
		row := flat[i*len(b) : (i+1)*len(b)]
		for j := range b {
			v, err := MaskIoU(a[i], b[j], crowd != nil && crowd[j])
			if err != nil {
				return nil, fmt.Errorf("detection %d, annotation %d: %w", i, j, err)
			}
			row[j] = v
		}
		out[i] = row
	}
	return out, nil
}
