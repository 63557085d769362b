package fracture

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// Bridson-style Poisson-disk sampling with a position-dependent minimum
// distance. The first seed sits at the impact point (clamped into bounds);
// the gradient function per impact kind decides how tightly later seeds
// pack relative to it.
const poissonAttempts = 30

// GenerateSeeds scatters fragment seeds inside the mesh bounds. The count
// lands in [Props.MinPieces, Props.MaxPieces]; explosions bias high.
func GenerateSeeds(req *Request) []mgl32.Vec3 {
	min, max := req.Mesh.Bounds()
	ext := max.Sub(min)
	volume := float64(ext.X() * ext.Y() * ext.Z())
	if volume <= 0 {
		volume = 0.001
	}

	target := req.Config.NumFragments
	if target <= 0 {
		target = (req.Props.MinPieces + req.Props.MaxPieces) / 2
	}
	if req.Kind == Explosion {
		target = target * 3 / 2
	}
	if target < req.Props.MinPieces {
		target = req.Props.MinPieces
	}
	if target > req.Props.MaxPieces {
		target = req.Props.MaxPieces
	}
	if target < 1 {
		target = 1
	}

	// Base spacing so that target cells tile the volume.
	baseR := float32(math.Cbrt(volume / float64(target)))
	maxDist := ext.Len()
	if maxDist <= 0 {
		maxDist = 1
	}

	rng := rand.New(rand.NewSource(req.Config.Seed))

	impact := clampToBounds(req.ImpactPoint, min, max)
	seeds := []mgl32.Vec3{impact}
	active := []int{0}

	grain := req.Props.GrainDirection
	anisotropic := grain.Len() > 1e-3 && req.Props.PlanarTendency > 0
	if anisotropic {
		grain = grain.Normalize()
	}

	radiusAt := func(p mgl32.Vec3) float32 {
		t := gradientT(req, p, impact, maxDist)
		r := baseR * gradientScale(req.Kind, t)
		// Clustering squeezes spacing near the impact further.
		r *= 1.0 - 0.5*req.Config.SeedClustering*(1.0-t)
		if r < baseR*0.15 {
			r = baseR * 0.15
		}
		return r
	}

	// Anisotropic spacing: distances along the grain count for less, so
	// accepted seeds sit farther apart along it and cells elongate with
	// the grain (splintering).
	dist := func(a, b mgl32.Vec3) float32 {
		d := a.Sub(b)
		if !anisotropic {
			return d.Len()
		}
		along := d.Dot(grain)
		perp := d.Sub(grain.Mul(along))
		along /= 1.0 + 2.0*req.Props.PlanarTendency
		return float32(math.Sqrt(float64(perp.Dot(perp) + along*along)))
	}

	fits := func(candidate mgl32.Vec3, r float32) bool {
		for _, s := range seeds {
			if dist(candidate, s) < r {
				return false
			}
		}
		return true
	}

	for len(active) > 0 && len(seeds) < target {
		ai := rng.Intn(len(active))
		center := seeds[active[ai]]
		r := radiusAt(center)

		placed := false
		for attempt := 0; attempt < poissonAttempts; attempt++ {
			candidate := center.Add(randomAnnulus(rng, r))
			if !inBounds(candidate, min, max) {
				continue
			}
			cr := radiusAt(candidate)
			if !fits(candidate, cr) {
				continue
			}
			seeds = append(seeds, candidate)
			active = append(active, len(seeds)-1)
			placed = true
			break
		}
		if !placed {
			active[ai] = active[len(active)-1]
			active = active[:len(active)-1]
		}
	}

	// The disk can starve before MinPieces on thin bounds; top up with
	// plain rejection samples.
	for len(seeds) < req.Props.MinPieces {
		candidate := mgl32.Vec3{
			min.X() + rng.Float32()*ext.X(),
			min.Y() + rng.Float32()*ext.Y(),
			min.Z() + rng.Float32()*ext.Z(),
		}
		seeds = append(seeds, candidate)
	}

	return seeds
}

// gradientT maps a position to 0..1 along the axis the impact kind cares
// about: distance from impact, depth along the hit, height, or mid-span.
func gradientT(req *Request, p, impact mgl32.Vec3, maxDist float32) float32 {
	switch req.Kind {
	case Cutting:
		// Linear in the component along the impact direction.
		along := p.Sub(impact).Dot(req.ImpactDir)
		return clamp01(float32(math.Abs(float64(along))) / maxDist)
	case Crushing:
		// Linear in the vertical axis.
		min, max := req.Mesh.Bounds()
		h := max.Y() - min.Y()
		if h <= 0 {
			return 0
		}
		return clamp01((p.Y() - min.Y()) / h)
	default:
		return clamp01(p.Sub(impact).Len() / maxDist)
	}
}

// gradientScale turns t into a spacing multiplier. Small near the action,
// large far from it; each impact kind has its own profile.
func gradientScale(kind ImpactKind, t float32) float32 {
	switch kind {
	case PointImpact:
		return 0.3 + 1.7*t*t // quadratic: fine shards at the hole
	case BluntForce:
		return 0.5 + 1.5*t
	case Explosion:
		return 0.8 + 0.4*t // near-uniform
	case Cutting:
		return 0.4 + 1.6*t
	case Crushing:
		return 0.5 + 1.5*t
	case Shearing:
		m := 2*t - 1
		return 0.4 + 1.6*m*m // parabola: densest at mid-span
	}
	return 1
}

func randomAnnulus(rng *rand.Rand, r float32) mgl32.Vec3 {
	// Uniform direction, radius in [r, 2r).
	for {
		v := mgl32.Vec3{
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
		}
		if v.Len() < 1e-6 {
			continue
		}
		radius := r * (1 + rng.Float32())
		return v.Normalize().Mul(radius)
	}
}

func clampToBounds(p, min, max mgl32.Vec3) mgl32.Vec3 {
	out := p
	for i := 0; i < 3; i++ {
		if out[i] < min[i] {
			out[i] = min[i]
		}
		if out[i] > max[i] {
			out[i] = max[i]
		}
	}
	return out
}

func inBounds(p, min, max mgl32.Vec3) bool {
	return p.X() >= min.X() && p.X() <= max.X() &&
		p.Y() >= min.Y() && p.Y() <= max.Y() &&
		p.Z() >= min.Z() && p.Z() <= max.Z()
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
