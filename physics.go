package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PhysicsWorld holds the integrator tuning, installed as a resource.
type PhysicsWorld struct {
	Config PhysicsConfig
}

func NewPhysicsWorld(cfg PhysicsConfig) *PhysicsWorld {
	if cfg.SubstepHz <= 0 {
		cfg.SubstepHz = 60
	}
	if cfg.SolverIterations <= 0 {
		cfg.SolverIterations = 4
	}
	return &PhysicsWorld{Config: cfg}
}

type PhysicsModule struct {
	Config PhysicsConfig
}

func (m PhysicsModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewPhysicsWorld(m.Config))
	app.UseSystem(Use(PhysicsSystem).InStage(Integrate))
}

type debrisBody struct {
	eid EntityId
	tr  *TransformComponent
	d   *DebrisComponent
	box AABB
}

type debrisContact struct {
	a, b   int // indices into bodies; b == -1 for world contacts
	point  mgl32.Vec3
	normal mgl32.Vec3 // points from b (or world) toward a
	depth  float32
}

// PhysicsSystem integrates all debris with fixed substeps of semi-implicit
// Euler, then resolves AABB contacts by impulse and puts idle pieces to
// sleep. Sleeping pieces skip integration and pair tests but stay
// collidable by awake pieces.
func PhysicsSystem(cmd *Commands, time *Time, physics *PhysicsWorld, world *TilemapWorld) {
	dt := float32(time.Dt)
	if dt <= 0 || dt > 0.5 {
		return
	}
	cfg := &physics.Config

	var bodies []debrisBody
	MakeQuery2[TransformComponent, DebrisComponent](cmd).Map(
		func(eid EntityId, tr *TransformComponent, d *DebrisComponent) bool {
			bodies = append(bodies, debrisBody{eid: eid, tr: tr, d: d})
			return true
		})
	if len(bodies) == 0 {
		return
	}

	stepDt := float32(1.0 / cfg.SubstepHz)
	subSteps := int(dt/stepDt) + 1
	if subSteps > 4 {
		subSteps = 4
	}
	dtSub := dt / float32(subSteps)

	for s := 0; s < subSteps; s++ {
		for i := range bodies {
			b := &bodies[i]
			if b.d.Sleeping {
				b.box = b.d.WorldAABB(b.tr)
				continue
			}
			integrateDebris(b.d, b.tr, cfg, dtSub)
			b.box = b.d.WorldAABB(b.tr)
		}

		contacts := findDebrisContacts(bodies)
		contacts = append(contacts, findWorldContacts(bodies, world, cfg)...)

		for iter := 0; iter < cfg.SolverIterations; iter++ {
			for _, c := range contacts {
				resolveDebrisContact(bodies, c, cfg)
			}
		}
	}

	// Sleep check after the last substep.
	for i := range bodies {
		b := &bodies[i]
		if b.d.Sleeping {
			continue
		}
		if b.d.Velocity.Len() < cfg.SleepLinearVel && b.d.AngularVelocity.Len() < cfg.SleepAngularVel {
			b.d.IdleTime += float64(dt)
			if b.d.IdleTime >= cfg.SleepTime {
				b.d.Sleeping = true
				b.d.Velocity = mgl32.Vec3{}
				b.d.AngularVelocity = mgl32.Vec3{}
			}
		} else {
			b.d.IdleTime = 0
		}
	}
}

func integrateDebris(d *DebrisComponent, tr *TransformComponent, cfg *PhysicsConfig, dt float32) {
	// Gravity plus quadratic air drag opposing velocity.
	accel := mgl32.Vec3{0, cfg.Gravity, 0}
	speed := d.Velocity.Len()
	if speed > 1e-4 && d.MassKg > 0 {
		dragMag := cfg.AirDragCoeff * speed * speed
		accel = accel.Sub(d.Velocity.Normalize().Mul(dragMag / d.MassKg))
	}

	d.Velocity = d.Velocity.Add(accel.Mul(dt))
	tr.Position = tr.Position.Add(d.Velocity.Mul(dt))

	// dq = 0.5 * (0, omega) * q, then renormalize.
	omega := d.AngularVelocity
	if omega.Len() > 1e-5 {
		oq := mgl32.Quat{W: 0, V: omega}
		dq := oq.Mul(tr.Rotation)
		tr.Rotation = mgl32.Quat{
			W: tr.Rotation.W + 0.5*dq.W*dt,
			V: tr.Rotation.V.Add(dq.V.Mul(0.5 * dt)),
		}.Normalize()
	}
	d.AngularVelocity = omega.Mul(1.0 - cfg.AngularDamping)
}

// findDebrisContacts is the O(n^2) broadphase over awake pieces plus the
// axis-of-least-overlap narrow phase. Sleeping pairs skip; a sleeping piece
// still collides against an awake one.
func findDebrisContacts(bodies []debrisBody) []debrisContact {
	var contacts []debrisContact
	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			bA, bB := &bodies[i], &bodies[j]
			if bA.d.Sleeping && bB.d.Sleeping {
				continue
			}
			if !bA.box.Overlaps(bB.box) {
				continue
			}

			diff := bA.tr.Position.Sub(bB.tr.Position)
			extA := bA.box.Extents().Mul(0.5)
			extB := bB.box.Extents().Mul(0.5)
			overlapX := extA.X() + extB.X() - float32(math.Abs(float64(diff.X())))
			overlapY := extA.Y() + extB.Y() - float32(math.Abs(float64(diff.Y())))
			overlapZ := extA.Z() + extB.Z() - float32(math.Abs(float64(diff.Z())))
			if overlapX <= 0 || overlapY <= 0 || overlapZ <= 0 {
				continue
			}

			normal := mgl32.Vec3{0, 1, 0}
			depth := overlapY
			if overlapX < overlapY && overlapX < overlapZ {
				depth = overlapX
				if diff.X() > 0 {
					normal = mgl32.Vec3{1, 0, 0}
				} else {
					normal = mgl32.Vec3{-1, 0, 0}
				}
			} else if overlapZ < overlapX && overlapZ < overlapY {
				depth = overlapZ
				if diff.Z() > 0 {
					normal = mgl32.Vec3{0, 0, 1}
				} else {
					normal = mgl32.Vec3{0, 0, -1}
				}
			} else if diff.Y() <= 0 {
				normal = mgl32.Vec3{0, -1, 0}
			}

			point := bA.tr.Position.Add(bB.tr.Position).Mul(0.5).Add(normal.Mul(depth * 0.5))
			contacts = append(contacts, debrisContact{
				a: i, b: j, point: point, normal: normal, depth: depth,
			})
		}
	}
	return contacts
}

// findWorldContacts checks each awake piece against the ground plane and,
// when enabled, the solid tile under its AABB.
func findWorldContacts(bodies []debrisBody, world *TilemapWorld, cfg *PhysicsConfig) []debrisContact {
	var contacts []debrisContact
	for i := range bodies {
		b := &bodies[i]
		if b.d.Sleeping {
			continue
		}

		if b.box.Min.Y() < cfg.GroundPlaneY {
			contacts = append(contacts, debrisContact{
				a: i, b: -1,
				point:  mgl32.Vec3{b.tr.Position.X(), cfg.GroundPlaneY, b.tr.Position.Z()},
				normal: mgl32.Vec3{0, 1, 0},
				depth:  cfg.GroundPlaneY - b.box.Min.Y(),
			})
		}

		if cfg.CollideWithTilemap && world != nil {
			below := WorldToTile(mgl32.Vec3{b.tr.Position.X(), b.box.Min.Y() - 0.01, b.tr.Position.Z()})
			if tile, ok := world.Tile(below); ok && tile.Active {
				if def, ok := world.Definition(tile.DefId); ok && def.Collision != CollisionNone {
					top := float32(below.Y)*TileSize + def.HeightMeters
					if b.box.Min.Y() < top {
						contacts = append(contacts, debrisContact{
							a: i, b: -1,
							point:  mgl32.Vec3{b.tr.Position.X(), top, b.tr.Position.Z()},
							normal: mgl32.Vec3{0, 1, 0},
							depth:  top - b.box.Min.Y(),
						})
					}
				}
			}
		}
	}
	return contacts
}

// resolveDebrisContact applies the standard impulse plus positional
// correction. Any impulse wakes a sleeping piece.
func resolveDebrisContact(bodies []debrisBody, c debrisContact, cfg *PhysicsConfig) {
	bA := &bodies[c.a]
	var bB *debrisBody
	if c.b >= 0 {
		bB = &bodies[c.b]
	}

	var vB mgl32.Vec3
	if bB != nil {
		vB = bB.d.Velocity
	}
	vRel := bA.d.Velocity.Sub(vB)
	velAlongNormal := vRel.Dot(c.normal)
	if velAlongNormal > 0 {
		return // separating
	}

	invMassA := float32(0)
	if bA.d.MassKg > 0 {
		invMassA = 1.0 / bA.d.MassKg
	}
	invMassB := float32(0)
	if bB != nil && bB.d.MassKg > 0 {
		invMassB = 1.0 / bB.d.MassKg
	}
	denom := invMassA + invMassB
	if denom == 0 {
		return
	}

	j := -(1.0 + cfg.Restitution) * velAlongNormal / denom
	impulse := c.normal.Mul(j)

	bA.d.Velocity = bA.d.Velocity.Add(impulse.Mul(invMassA))
	wakeDebris(bA.d)
	if bB != nil {
		bB.d.Velocity = bB.d.Velocity.Sub(impulse.Mul(invMassB))
		wakeDebris(bB.d)
	}

	// Positional correction against sink-in.
	pen := c.depth - cfg.CorrectionSlop
	if pen > 0 {
		correction := c.normal.Mul(cfg.CorrectionPercent * pen / denom)
		bA.tr.Position = bA.tr.Position.Add(correction.Mul(invMassA))
		bA.box = bA.d.WorldAABB(bA.tr)
		if bB != nil {
			bB.tr.Position = bB.tr.Position.Sub(correction.Mul(invMassB))
			bB.box = bB.d.WorldAABB(bB.tr)
		}
	}
}

func wakeDebris(d *DebrisComponent) {
	d.Sleeping = false
	d.IdleTime = 0
}

// WakeDebrisInRadius wakes every piece near a disturbance (an explosion, a
// new impact). Called by the impact dispatcher.
func WakeDebrisInRadius(cmd *Commands, center mgl32.Vec3, radius float32) {
	MakeQuery2[TransformComponent, DebrisComponent](cmd).Map(
		func(eid EntityId, tr *TransformComponent, d *DebrisComponent) bool {
			if tr.Position.Sub(center).Len() <= radius {
				wakeDebris(d)
			}
			return true
		})
}
