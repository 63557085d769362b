package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rubble/fracture"
)

type FluidCellType int

const (
	FluidAir FluidCellType = iota
	FluidLiquid
	FluidGas
)

type FluidCell struct {
	Type     FluidCellType
	Density  float32 // kg/m^3
	Velocity mgl32.Vec3
}

// FluidGridProvider is the external fluid solver's read-only surface.
// Sampling outside the grid returns an Air cell.
type FluidGridProvider interface {
	Sample(worldPos mgl32.Vec3) FluidCell
	Origin() mgl32.Vec3
	CellSize() float32
	Dimensions() (x, y, z int)
}

// FluidGridSlot is the per-frame attachment point: the host swaps the
// provider in before the Fluid stage, or leaves it nil for dry scenes.
type FluidGridSlot struct {
	Provider FluidGridProvider
}

// StaggeredFluidGrid is a plain dense implementation of the provider
// contract, used standalone and in tests.
type StaggeredFluidGrid struct {
	GridOrigin       mgl32.Vec3
	GridCellSize     float32
	DimX, DimY, DimZ int
	Cells            []FluidCell
}

func NewStaggeredFluidGrid(origin mgl32.Vec3, cellSize float32, dx, dy, dz int) *StaggeredFluidGrid {
	return &StaggeredFluidGrid{
		GridOrigin:   origin,
		GridCellSize: cellSize,
		DimX:         dx,
		DimY:         dy,
		DimZ:         dz,
		Cells:        make([]FluidCell, dx*dy*dz),
	}
}

func (g *StaggeredFluidGrid) Origin() mgl32.Vec3          { return g.GridOrigin }
func (g *StaggeredFluidGrid) CellSize() float32           { return g.GridCellSize }
func (g *StaggeredFluidGrid) Dimensions() (int, int, int) { return g.DimX, g.DimY, g.DimZ }

func (g *StaggeredFluidGrid) At(x, y, z int) *FluidCell {
	return &g.Cells[x+y*g.DimX+z*g.DimX*g.DimY]
}

func (g *StaggeredFluidGrid) Sample(p mgl32.Vec3) FluidCell {
	rel := p.Sub(g.GridOrigin).Mul(1.0 / g.GridCellSize)
	x, y, z := floorf(rel.X()), floorf(rel.Y()), floorf(rel.Z())
	if x < 0 || x >= g.DimX || y < 0 || y >= g.DimY || z < 0 || z >= g.DimZ {
		return FluidCell{Type: FluidAir}
	}
	return *g.At(x, y, z)
}

type FluidCouplingSim struct {
	Config FluidConfig
}

func NewFluidCouplingSim(cfg FluidConfig) *FluidCouplingSim {
	if cfg.MaxPieces <= 0 {
		cfg.MaxPieces = 256
	}
	return &FluidCouplingSim{Config: cfg}
}

type FluidCouplingModule struct {
	Config FluidConfig
}

func (m FluidCouplingModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewFluidCouplingSim(m.Config), &FluidGridSlot{})
	app.UseSystem(Use(FluidCouplingSystem).InStage(Fluid))
}

// FluidCouplingSystem applies buoyancy, drag, angular drag and flow forces
// to debris via the voxel approximation. Sleeping pieces are skipped unless
// the net force is strong enough to wake them.
func FluidCouplingSystem(cmd *Commands, time *Time, sim *FluidCouplingSim, slot *FluidGridSlot) {
	if slot.Provider == nil {
		return
	}
	dt := float32(time.Dt)
	if dt <= 0 {
		return
	}

	processed := 0
	MakeQuery2[TransformComponent, DebrisComponent](cmd).Map(
		func(eid EntityId, tr *TransformComponent, d *DebrisComponent) bool {
			if processed >= sim.Config.MaxPieces {
				return false
			}
			wasSleeping := d.Sleeping
			if !wasSleeping {
				processed++
			}

			force, torqueDamp, avgFlow, submerged := sim.sampleForces(slot.Provider, tr, d)
			if submerged <= 0 {
				return true
			}

			if wasSleeping {
				if force.Len() < sim.Config.WakeForceN {
					return true
				}
				wakeDebris(d)
				processed++
			}

			// Flow push: average fluid velocity across submerged voxels.
			force = force.Add(avgFlow.Mul(d.MassKg * sim.Config.FlowStrength))

			if d.MassKg > 0 {
				d.Velocity = d.Velocity.Add(force.Mul(dt / d.MassKg))
			}
			d.AngularVelocity = d.AngularVelocity.Mul(torqueDamp)
			return true
		})
}

// sampleForces walks the piece's occupancy voxels, transforms each into
// world space, and accumulates submersion, buoyancy and drag.
func (sim *FluidCouplingSim) sampleForces(provider FluidGridProvider, tr *TransformComponent, d *DebrisComponent) (force mgl32.Vec3, torqueDamp float32, avgFlow mgl32.Vec3, submergedFraction float32) {
	torqueDamp = 1.0

	ext := d.LocalMax.Sub(d.LocalMin)
	res := fracture.VoxelRes
	voxelVol := (ext.X() / float32(res)) * (ext.Y() / float32(res)) * (ext.Z() / float32(res))

	occupied := 0
	submerged := 0
	var flowSum mgl32.Vec3
	var densitySum float32

	for z := 0; z < res; z++ {
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				if !d.VoxelOccupancy[x+y*res+z*res*res] {
					continue
				}
				occupied++
				local := mgl32.Vec3{
					d.LocalMin.X() + (float32(x)+0.5)/float32(res)*ext.X(),
					d.LocalMin.Y() + (float32(y)+0.5)/float32(res)*ext.Y(),
					d.LocalMin.Z() + (float32(z)+0.5)/float32(res)*ext.Z(),
				}
				world := tr.Position.Add(tr.Rotation.Rotate(local))
				cell := provider.Sample(world)
				// At exactly the threshold the voxel counts as submerged.
				if cell.Type != FluidAir && cell.Density >= sim.Config.SubmergeThreshold {
					submerged++
					flowSum = flowSum.Add(cell.Velocity)
					densitySum += cell.Density
				}
			}
		}
	}
	if occupied == 0 || submerged == 0 {
		return
	}

	submergedFraction = float32(submerged) / float32(occupied)
	fluidDensity := densitySum / float32(submerged)
	avgFlow = flowSum.Mul(1.0 / float32(submerged))

	// Buoyancy: displaced volume times fluid density, straight up.
	displacedVol := voxelVol * float32(submerged)
	force = mgl32.Vec3{0, fluidDensity * displacedVol * 9.81, 0}

	// Quadratic drag against the relative velocity, cross-section from the
	// AABB face normal to the dominant motion axis.
	center := provider.Sample(tr.Position)
	vRel := d.Velocity.Sub(center.Velocity)
	speed := vRel.Len()
	if speed > 1e-4 {
		area := crossSection(ext, vRel)
		dragMag := 0.5 * fluidDensity * speed * speed * sim.Config.DragCoeff * area * submergedFraction
		force = force.Sub(vRel.Normalize().Mul(dragMag))
	}

	// Angular drag as a per-application damping factor.
	damp := 1.0 - sim.Config.AngularDragCoeff*submergedFraction*0.1
	if damp < 0 {
		damp = 0
	}
	torqueDamp = damp
	return
}

// crossSection picks the AABB face area perpendicular to the dominant
// velocity component.
func crossSection(ext mgl32.Vec3, v mgl32.Vec3) float32 {
	ax := float32(math.Abs(float64(v.X())))
	ay := float32(math.Abs(float64(v.Y())))
	az := float32(math.Abs(float64(v.Z())))
	switch {
	case ay >= ax && ay >= az:
		return ext.X() * ext.Z()
	case ax >= az:
		return ext.Y() * ext.Z()
	default:
		return ext.X() * ext.Y()
	}
}
