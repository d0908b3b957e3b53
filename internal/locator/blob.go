package locator

import (
	"image"
	"image/color"
	"math"
)

const (
	minBlobArea = 50
	maxBlobArea = 500
	minFill     = 0.5
	maxAspect   = 1.6
)

// isRed reports whether c is a saturated, bright red in HSV space
func isRed(c color.Color) bool {
	h, s, v := hsv(c)
	return (h <= 15 || h >= 345) && s >= 0.4 && v >= 0.4
}

// hsv converts c to hue in degrees and saturation/value in [0,1]
func hsv(c color.Color) (h, s, v float64) {
	r16, g16, b16, _ := c.RGBA()
	r, g, b := float64(r16)/0xffff, float64(g16)/0xffff, float64(b16)/0xffff

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}
	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// findRedBlob returns the centre of the right-most reddish, roughly circular
// 4-connected component inside region.
func findRedBlob(img image.Image, region image.Rectangle) (image.Point, bool) {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return image.Point{}, false
	}

	w, h := region.Dx(), region.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask[y*w+x] = isRed(img.At(region.Min.X+x, region.Min.Y+y))
		}
	}

	seen := make([]bool, w*h)
	var best image.Point
	found := false
	queue := make([]int, 0, 64)

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		area := 0
		minX, minY, maxX, maxY := w, h, -1, -1

		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			area++
			x, y := i%w, i/w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if mask[j] && !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}

		if area < minBlobArea || area > maxBlobArea {
			continue
		}
		bw, bh := float64(maxX-minX+1), float64(maxY-minY+1)
		aspect := bw / bh
		if aspect > maxAspect || aspect < 1/maxAspect {
			continue
		}
		if float64(area)/(bw*bh) < minFill {
			continue
		}

		center := image.Pt(region.Min.X+(minX+maxX)/2, region.Min.Y+(minY+maxY)/2)
		if !found || center.X > best.X {
			best, found = center, true
		}
	}
	return best, found
}
