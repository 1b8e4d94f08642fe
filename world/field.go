package world

import (
	"math"

	"github.com/crucible-sim/crucible/chem"
)

// NoiseConfig tunes the FBM terrain used to seed chemical patches.
type NoiseConfig struct {
	Scale      float64 `yaml:"scale"`
	Octaves    int     `yaml:"octaves"`
	Lacunarity float64 `yaml:"lacunarity"`
	Gain       float64 `yaml:"gain"`
	Contrast   float64 `yaml:"contrast"` // exponent; higher = sparser patches
}

// DefaultNoise matches the patchy terrain the engine was tuned on.
func DefaultNoise() NoiseConfig {
	return NoiseConfig{Scale: 4, Octaves: 4, Lacunarity: 2, Gain: 0.5, Contrast: 3}
}

// Field holds one toroidal concentration grid per registered chemical
// base, laid out in registry-snapshot order. Diffusion and decay use
// each base's own rates.
type Field struct {
	W, H  int
	bases []chem.ChemicalBase
	index map[chem.BaseID]int
	grids [][]float64
	tmp   []float64
	noise NoiseConfig
	seed  uint64
	amp   float64 // initial concentration at a noise peak
}

// NewField builds a field seeded from tileable FBM value noise; each
// base gets its own seed so patches of different chemicals do not
// overlap.
func NewField(w, h int, reg *chem.Snapshot, seed uint64, noise NoiseConfig, initialAmount float64) *Field {
	f := &Field{
		W: w, H: h,
		index: make(map[chem.BaseID]int),
		tmp:   make([]float64, w*h),
		noise: noise,
		seed:  seed,
		amp:   initialAmount,
	}
	f.Sync(reg)
	return f
}

// Sync appends grids for bases registered since the field was built.
// Existing grids are untouched, so mid-run inventions never disturb
// established chemistry.
func (f *Field) Sync(reg *chem.Snapshot) {
	for i := len(f.grids); i < reg.Len(); i++ {
		b := reg.At(i)
		g := make([]float64, f.W*f.H)
		f.fill(g, f.seed+uint64(i)*0x9e3779b97f4a7c15)
		f.grids = append(f.grids, g)
		f.bases = append(f.bases, b)
		f.index[b.ID] = i
	}
}

// Index returns the grid index of a base id.
func (f *Field) Index(id chem.BaseID) (int, bool) {
	i, ok := f.index[id]
	return i, ok
}

// Bases returns the number of grids.
func (f *Field) Bases() int { return len(f.grids) }

func (f *Field) fill(g []float64, seed uint64) {
	s := uint32(seed ^ seed>>32)
	for y := 0; y < f.H; y++ {
		v := (float64(y) + 0.5) / float64(f.H)
		for x := 0; x < f.W; x++ {
			u := (float64(x) + 0.5) / float64(f.W)
			g[y*f.W+x] = f.amp * fbm(u, v, f.noise, s)
		}
	}
}

// At returns the concentration of base b at (x, y); coordinates wrap.
func (f *Field) At(b, x, y int) float64 {
	return f.grids[b][modInt(y, f.H)*f.W+modInt(x, f.W)]
}

// Add deposits amount of base b at (x, y).
func (f *Field) Add(b, x, y int, amount float64) {
	f.grids[b][modInt(y, f.H)*f.W+modInt(x, f.W)] += amount
}

// Take removes up to want of base b at (x, y) and returns the amount
// actually removed. Never drives a cell negative.
func (f *Field) Take(b, x, y int, want float64) float64 {
	if want <= 0 {
		return 0
	}
	i := modInt(y, f.H)*f.W + modInt(x, f.W)
	take := want
	if take > f.grids[b][i] {
		take = f.grids[b][i]
	}
	f.grids[b][i] -= take
	return take
}

// GradientMag returns the central-difference gradient magnitude of
// base b at (x, y).
func (f *Field) GradientMag(b, x, y int) float64 {
	dx := (f.At(b, x+1, y) - f.At(b, x-1, y)) / 2
	dy := (f.At(b, x, y+1) - f.At(b, x, y-1)) / 2
	return math.Sqrt(dx*dx + dy*dy)
}

// Gradients fills dst with per-base gradient magnitudes at (x, y).
func (f *Field) Gradients(x, y int, dst []float64) []float64 {
	if cap(dst) < len(f.grids) {
		dst = make([]float64, len(f.grids))
	}
	dst = dst[:len(f.grids)]
	for b := range f.grids {
		dst[b] = f.GradientMag(b, x, y)
	}
	return dst
}

// Total sums the concentration of base b over the whole grid.
func (f *Field) Total(b int) float64 {
	var sum float64
	for _, v := range f.grids[b] {
		sum += v
	}
	return sum
}

// Diffuse runs one explicit 5-point Laplacian step per base toward the
// neighborhood mean. Mass-conserving on the torus.
func (f *Field) Diffuse(dt float64) {
	for b, base := range f.bases {
		a := base.DiffusionRate * dt
		if a <= 0 {
			continue
		}
		// Stability clamp for explicit diffusion.
		if a > 0.25 {
			a = 0.25
		}
		src := f.grids[b]
		dst := f.tmp
		for y := 0; y < f.H; y++ {
			yN := modInt(y-1, f.H)
			yS := modInt(y+1, f.H)
			for x := 0; x < f.W; x++ {
				xW := modInt(x-1, f.W)
				xE := modInt(x+1, f.W)
				i := y*f.W + x
				c := src[i]
				dst[i] = c + a*(src[yN*f.W+x]+src[yS*f.W+x]+src[y*f.W+xE]+src[y*f.W+xW]-4*c)
			}
		}
		copy(src, dst)
	}
}

// Decay removes DecayRate·dt of every base everywhere and returns the
// total chemical mass lost, for conservation accounting.
func (f *Field) Decay(dt float64) float64 {
	var lost float64
	for b, base := range f.bases {
		k := base.DecayRate * dt
		if k <= 0 {
			continue
		}
		if k > 1 {
			k = 1
		}
		g := f.grids[b]
		for i, v := range g {
			d := v * k
			g[i] = v - d
			lost += d
		}
	}
	return lost
}

// Data returns the raw grid of base b. Callers must treat it as
// read-only; it is exposed for snapshot export.
func (f *Field) Data(b int) []float64 { return f.grids[b] }

// SetData overwrites the grid of base b, used by snapshot import.
func (f *Field) SetData(b int, data []float64) {
	copy(f.grids[b], data)
}

// fbm generates tileable fractional Brownian motion in [0,1].
func fbm(u, v float64, n NoiseConfig, seed uint32) float64 {
	sum := 0.0
	amp := 0.5
	freq := n.Scale
	for o := 0; o < n.Octaves; o++ {
		sum += amp * valueNoiseTileable(u, v, freq, seed)
		freq *= n.Lacunarity
		amp *= n.Gain
	}
	// Contrast shaping pushes mid-values down so only peaks stay rich.
	return clamp01(math.Pow(sum, n.Contrast))
}

// valueNoiseTileable generates tileable value noise at the given frequency.
func valueNoiseTileable(u, v, freq float64, seed uint32) float64 {
	x := u * freq
	y := v * freq

	ix := int(math.Floor(x))
	iy := int(math.Floor(y))
	fx := x - float64(ix)
	fy := y - float64(iy)

	// Wrap lattice coordinates for tiling.
	f := int(freq)
	if f < 1 {
		f = 1
	}
	i00x := modInt(ix, f)
	i10x := modInt(ix+1, f)
	i00y := modInt(iy, f)
	i01y := modInt(iy+1, f)

	a := hash01(i00x, i00y, seed)
	b := hash01(i10x, i00y, seed)
	c := hash01(i00x, i01y, seed)
	d := hash01(i10x, i01y, seed)

	ux := smoothstep(fx)
	uy := smoothstep(fy)

	ab := a + (b-a)*ux
	cd := c + (d-c)*ux
	return ab + (cd-ab)*uy
}

// hash01 generates a pseudo-random float in [0,1) from lattice coordinates.
func hash01(ix, iy int, seed uint32) float64 {
	x := uint32(ix)
	y := uint32(iy)
	h := x*374761393 + y*668265263 + seed*1442695041
	h = (h ^ (h >> 13)) * 1274126177
	h ^= h >> 16
	return float64(h&0x00FFFFFF) / float64(0x01000000)
}

func smoothstep(t float64) float64 { return t * t * (3 - 2*t) }

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func modInt(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
