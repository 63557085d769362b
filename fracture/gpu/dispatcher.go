// Package gpu dispatches Voronoi cell construction to a webgpu compute
// device. The contract matches the CPU path in the parent package: same
// counts and invariants, not bit-exact coordinates.
package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rubble/fracture"
)

const (
	latticeRes      = 32 // lattice points per axis; 4^3 workgroups of 8^3
	maxVertsPerCell = 256
	maxTrisPerCell  = 512
)

// Dispatcher owns the two compute pipelines and scratch buffers, reused
// across dispatches. One mutex-free owner: the fracture stage.
type Dispatcher struct {
	device *wgpu.Device

	pass1 *wgpu.ComputePipeline
	pass2 *wgpu.ComputePipeline

	paramsBuf     *wgpu.Buffer
	seedsBuf      *wgpu.Buffer
	cellCountsBuf *wgpu.Buffer
	cellVertsBuf  *wgpu.Buffer
	triCountsBuf  *wgpu.Buffer
	trisBuf       *wgpu.Buffer
	normalsBuf    *wgpu.Buffer
	readbackBuf   *wgpu.Buffer

	maxSeeds int
}

// New compiles the pipelines and allocates pools for up to maxSeeds cells.
func New(device *wgpu.Device, maxSeeds int) (*Dispatcher, error) {
	if maxSeeds <= 0 {
		maxSeeds = 64
	}
	d := &Dispatcher{device: device, maxSeeds: maxSeeds}

	mod1, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Voronoi Pass1 CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: voronoiPass1WGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("pass1 shader: %w", err)
	}
	defer mod1.Release()

	d.pass1, err = device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "Voronoi Pass1",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod1,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pass1 pipeline: %w", err)
	}

	mod2, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Voronoi Pass2 CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: voronoiPass2WGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("pass2 shader: %w", err)
	}
	defer mod2.Release()

	d.pass2, err = device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "Voronoi Pass2",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod2,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pass2 pipeline: %w", err)
	}

	if err := d.createBuffers(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) createBuffers() error {
	var err error
	mk := func(label string, size uint64, usage wgpu.BufferUsage) *wgpu.Buffer {
		if err != nil {
			return nil
		}
		var buf *wgpu.Buffer
		buf, err = d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: label,
			Size:  size,
			Usage: usage,
		})
		return buf
	}

	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	d.paramsBuf = mk("Voronoi Params", 64, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	d.seedsBuf = mk("Voronoi Seeds", uint64(d.maxSeeds*16), storage)
	d.cellCountsBuf = mk("Voronoi Cell Counts", uint64(d.maxSeeds*4), storage)
	d.cellVertsBuf = mk("Voronoi Cell Verts", uint64(d.maxSeeds*maxVertsPerCell*16), storage)
	d.triCountsBuf = mk("Voronoi Tri Counts", uint64(d.maxSeeds*4), storage)
	d.trisBuf = mk("Voronoi Tris", uint64(d.maxSeeds*maxTrisPerCell*16), storage)
	d.normalsBuf = mk("Voronoi Normals", uint64(d.maxSeeds*maxTrisPerCell*16), storage)

	readbackSize := uint64(d.maxSeeds*4) + // tri counts
		uint64(d.maxSeeds*4) + // vert counts
		uint64(d.maxSeeds*maxVertsPerCell*16) +
		uint64(d.maxSeeds*maxTrisPerCell*16) +
		uint64(d.maxSeeds*maxTrisPerCell*16)
	d.readbackBuf = mk("Voronoi Readback", readbackSize, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead)
	if err != nil {
		return fmt.Errorf("voronoi buffers: %w", err)
	}
	return nil
}

// DispatchVoronoi satisfies fracture.Dispatcher. It returns at once: a
// goroutine submits the GPU work, waits for readback, and then resolves the
// future.
func (d *Dispatcher) DispatchVoronoi(req *fracture.Request, seeds []mgl32.Vec3) *fracture.Future {
	future := fracture.NewFuture()
	if len(seeds) > d.maxSeeds {
		future.Complete(nil, fmt.Errorf("seed count %d exceeds pool %d", len(seeds), d.maxSeeds))
		return future
	}

	go func() {
		frags, err := d.run(req, seeds)
		future.Complete(frags, err)
	}()
	return future
}

func (d *Dispatcher) run(req *fracture.Request, seeds []mgl32.Vec3) ([]fracture.Fragment, error) {
	queue := d.device.GetQueue()
	min, max := req.Mesh.Bounds()

	// Upload params + seeds, zero the counters.
	params := make([]byte, 64)
	putVec4(params[0:], min, 0)
	putVec4(params[16:], max, 0)
	binary.LittleEndian.PutUint32(params[32:], latticeRes)
	binary.LittleEndian.PutUint32(params[36:], latticeRes)
	binary.LittleEndian.PutUint32(params[40:], latticeRes)
	binary.LittleEndian.PutUint32(params[44:], uint32(len(seeds)))
	binary.LittleEndian.PutUint32(params[48:], maxVertsPerCell)
	binary.LittleEndian.PutUint32(params[52:], maxTrisPerCell)
	queue.WriteBuffer(d.paramsBuf, 0, params)

	seedData := make([]byte, len(seeds)*16)
	for i, s := range seeds {
		putVec4(seedData[i*16:], s, 1)
	}
	queue.WriteBuffer(d.seedsBuf, 0, seedData)
	queue.WriteBuffer(d.cellCountsBuf, 0, make([]byte, d.maxSeeds*4))
	queue.WriteBuffer(d.triCountsBuf, 0, make([]byte, d.maxSeeds*4))

	bg1, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Voronoi Pass1 BG",
		Layout: d.pass1.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: d.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: d.seedsBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: d.cellCountsBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: d.cellVertsBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pass1 bind group: %w", err)
	}
	defer bg1.Release()

	bg2, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Voronoi Pass2 BG",
		Layout: d.pass2.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: d.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: d.cellCountsBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: d.cellVertsBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: d.triCountsBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: d.trisBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: d.normalsBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pass2 bind group: %w", err)
	}
	defer bg2.Release()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("command encoder: %w", err)
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(d.pass1)
	pass.SetBindGroup(0, bg1, nil)
	const wg = (latticeRes + 7) / 8
	pass.DispatchWorkgroups(wg, wg, wg)
	pass.SetPipeline(d.pass2)
	pass.SetBindGroup(0, bg2, nil)
	pass.DispatchWorkgroups(uint32(len(seeds)), 1, 1)
	pass.End()

	// Pack everything into one readback buffer.
	off := uint64(0)
	copyOut := func(src *wgpu.Buffer, size uint64) {
		encoder.CopyBufferToBuffer(src, 0, d.readbackBuf, off, size)
		off += size
	}
	copyOut(d.triCountsBuf, uint64(d.maxSeeds*4))
	copyOut(d.cellCountsBuf, uint64(d.maxSeeds*4))
	copyOut(d.cellVertsBuf, uint64(d.maxSeeds*maxVertsPerCell*16))
	copyOut(d.trisBuf, uint64(d.maxSeeds*maxTrisPerCell*16))
	copyOut(d.normalsBuf, uint64(d.maxSeeds*maxTrisPerCell*16))

	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("encoder finish: %w", err)
	}
	queue.Submit(cmdBuf)

	data, err := d.mapReadback()
	if err != nil {
		return nil, err
	}
	return d.parse(req, seeds, data), nil
}

func (d *Dispatcher) mapReadback() ([]byte, error) {
	done := false
	ok := false
	d.readbackBuf.MapAsync(wgpu.MapModeRead, 0, d.readbackBuf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
		done = true
		ok = status == wgpu.BufferMapAsyncStatusSuccess
	})
	for !done {
		d.device.Poll(true, nil)
	}
	if !ok {
		return nil, fmt.Errorf("voronoi readback map failed")
	}
	mapped := d.readbackBuf.GetMappedRange(0, uint(d.readbackBuf.GetSize()))
	// Copy out before Unmap invalidates the range.
	data := make([]byte, len(mapped))
	copy(data, mapped)
	d.readbackBuf.Unmap()
	return data, nil
}

// parse converts the packed readback into fragments: per-cell vertex pools
// re-indexed by the hull triangles.
func (d *Dispatcher) parse(req *fracture.Request, seeds []mgl32.Vec3, data []byte) []fracture.Fragment {
	triCountsOff := 0
	vertCountsOff := triCountsOff + d.maxSeeds*4
	vertsOff := vertCountsOff + d.maxSeeds*4
	trisOff := vertsOff + d.maxSeeds*maxVertsPerCell*16
	normalsOff := trisOff + d.maxSeeds*maxTrisPerCell*16

	var fragments []fracture.Fragment
	for cell := 0; cell < len(seeds); cell++ {
		triCount := binary.LittleEndian.Uint32(data[triCountsOff+cell*4:])
		if triCount > maxTrisPerCell {
			triCount = maxTrisPerCell
		}
		vertCount := binary.LittleEndian.Uint32(data[vertCountsOff+cell*4:])
		if vertCount > maxVertsPerCell {
			vertCount = maxVertsPerCell
		}
		if triCount < 4 || vertCount < 4 {
			continue // degenerate cell, cut away entirely
		}

		pool := make([]mgl32.Vec3, vertCount)
		for i := range pool {
			base := vertsOff + (cell*maxVertsPerCell+i)*16
			pool[i] = getVec3(data[base:])
		}

		var frag fracture.Fragment
		frag.Rotation = mgl32.QuatIdent()

		// The hull re-emits pool vertices per face so normals stay flat.
		centroid := mgl32.Vec3{}
		for _, p := range pool {
			centroid = centroid.Add(p)
		}
		centroid = centroid.Mul(1.0 / float32(len(pool)))
		frag.Centroid = centroid
		frag.Position = centroid

		for t := uint32(0); t < triCount; t++ {
			base := trisOff + (cell*maxTrisPerCell+int(t))*16
			i0 := binary.LittleEndian.Uint32(data[base:])
			i1 := binary.LittleEndian.Uint32(data[base+4:])
			i2 := binary.LittleEndian.Uint32(data[base+8:])
			if i0 >= vertCount || i1 >= vertCount || i2 >= vertCount {
				continue
			}
			nBase := normalsOff + (cell*maxTrisPerCell+int(t))*16
			normal := getVec3(data[nBase:])

			start := uint32(len(frag.Vertices))
			for _, idx := range [3]uint32{i0, i1, i2} {
				frag.Vertices = append(frag.Vertices, pool[idx].Sub(centroid))
				frag.Normals = append(frag.Normals, normal)
			}
			frag.Indices = append(frag.Indices, start, start+1, start+2)
		}
		if len(frag.Indices) < 12 {
			continue
		}

		frag.Min, frag.Max = fragmentBounds(frag.Vertices)
		frag.TriangleCount = len(frag.Indices) / 3
		frag.UVs = planarUVs(frag.Vertices, frag.Min, frag.Max)
		hullVoxelize(&frag)
		fragments = append(fragments, frag)
	}
	return fragments
}

func fragmentBounds(verts []mgl32.Vec3) (min, max mgl32.Vec3) {
	if len(verts) == 0 {
		return
	}
	min, max = verts[0], verts[0]
	for _, v := range verts[1:] {
		for i := 0; i < 3; i++ {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	return
}

func planarUVs(verts []mgl32.Vec3, min, max mgl32.Vec3) []mgl32.Vec2 {
	ext := max.Sub(min)
	axis := 0
	if ext.Y() > ext[axis] {
		axis = 1
	}
	if ext.Z() > ext[axis] {
		axis = 2
	}
	u := (axis + 1) % 3
	v := (axis + 2) % 3
	du, dv := ext[u], ext[v]
	if du < 1e-6 {
		du = 1
	}
	if dv < 1e-6 {
		dv = 1
	}
	uvs := make([]mgl32.Vec2, len(verts))
	for i, p := range verts {
		uvs[i] = mgl32.Vec2{(p[u] - min[u]) / du, (p[v] - min[v]) / dv}
	}
	return uvs
}

// hullVoxelize samples the occupancy grid against the hull's face planes
// (convex, outward normals: inside means behind every face).
func hullVoxelize(frag *fracture.Fragment) {
	type plane struct {
		n mgl32.Vec3
		d float32
	}
	planes := make([]plane, 0, frag.TriangleCount)
	for t := 0; t < len(frag.Indices); t += 3 {
		a := frag.Vertices[frag.Indices[t]]
		n := frag.Normals[frag.Indices[t]]
		planes = append(planes, plane{n: n, d: n.Dot(a)})
	}

	ext := frag.Max.Sub(frag.Min)
	res := fracture.VoxelRes
	for z := 0; z < res; z++ {
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				p := mgl32.Vec3{
					frag.Min.X() + (float32(x)+0.5)/float32(res)*ext.X(),
					frag.Min.Y() + (float32(y)+0.5)/float32(res)*ext.Y(),
					frag.Min.Z() + (float32(z)+0.5)/float32(res)*ext.Z(),
				}
				inside := true
				for _, pl := range planes {
					if pl.n.Dot(p) > pl.d+1e-4 {
						inside = false
						break
					}
				}
				frag.VoxelOccupancy[x+y*res+z*res*res] = inside
			}
		}
	}
}

func putVec4(dst []byte, v mgl32.Vec3, w float32) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v.X()))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v.Y()))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(v.Z()))
	binary.LittleEndian.PutUint32(dst[12:], math.Float32bits(w))
}

func getVec3(src []byte) mgl32.Vec3 {
	return mgl32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	}
}

var _ fracture.Dispatcher = (*Dispatcher)(nil)
