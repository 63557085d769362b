package rubble

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// MeshData is CPU-side geometry: positions, normals, UVs and 32-bit triangle
// indices. The cache uploads it through a GpuBackend and keeps only counts.
type MeshData struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
}

func (m *MeshData) TriangleCount() int {
	return len(m.Indices) / 3
}

func (m *MeshData) Bounds() AABB {
	if len(m.Positions) == 0 {
		return AABB{}
	}
	min, max := m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	return AABB{Min: min, Max: max}
}

// MeshSource loads geometry from a path. Implementations may hit disk, an
// asset bundle, or a test fixture.
type MeshSource interface {
	Load(path string) (*MeshData, error)
}

// FileMeshSource reads Wavefront OBJ (the triangulated subset: v/vn/vt/f).
// Faces with more than three corners are fan-triangulated.
type FileMeshSource struct{}

func (FileMeshSource) Load(path string) (*MeshData, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMeshNotFound, path)
		}
		return nil, fmt.Errorf("open mesh %s: %w", path, err)
	}
	defer f.Close()
	mesh, err := ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("parse mesh %s: %w", path, err)
	}
	return mesh, nil
}

type objVertexKey struct {
	v, vt, vn int
}

// ParseOBJ reads an OBJ stream. Referenced position/uv/normal triples are
// deduplicated into single vertices so the index buffer stays compact.
func ParseOBJ(r io.Reader) (*MeshData, error) {
	var positions []mgl32.Vec3
	var normals []mgl32.Vec3
	var uvs []mgl32.Vec2

	mesh := &MeshData{}
	seen := make(map[objVertexKey]uint32)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			positions = append(positions, v)
		case "vn":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			normals = append(normals, v)
		case "vt":
			if len(fields) < 3 {
				return nil, fmt.Errorf("line %d: vt needs 2 components", lineNo)
			}
			u, err1 := strconv.ParseFloat(fields[1], 32)
			v, err2 := strconv.ParseFloat(fields[2], 32)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("line %d: bad vt", lineNo)
			}
			uvs = append(uvs, mgl32.Vec2{float32(u), float32(v)})
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 corners", lineNo)
			}
			corners := make([]uint32, 0, len(fields)-1)
			for _, spec := range fields[1:] {
				idx, err := objCorner(spec, positions, uvs, normals, mesh, seen)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				corners = append(corners, idx)
			}
			for i := 2; i < len(corners); i++ {
				mesh.Indices = append(mesh.Indices, corners[0], corners[i-1], corners[i])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(mesh.Positions) == 0 {
		return nil, fmt.Errorf("mesh has no vertices")
	}
	return mesh, nil
}

func parseVec3(fields []string) (mgl32.Vec3, error) {
	if len(fields) < 3 {
		return mgl32.Vec3{}, fmt.Errorf("need 3 components")
	}
	var out mgl32.Vec3
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("bad float %q", fields[i])
		}
		out[i] = float32(f)
	}
	return out, nil
}

func objCorner(spec string, positions []mgl32.Vec3, uvs []mgl32.Vec2, normals []mgl32.Vec3, mesh *MeshData, seen map[objVertexKey]uint32) (uint32, error) {
	parts := strings.Split(spec, "/")
	key := objVertexKey{}
	var err error
	key.v, err = objIndex(parts[0], len(positions))
	if err != nil {
		return 0, err
	}
	if len(parts) > 1 && parts[1] != "" {
		key.vt, err = objIndex(parts[1], len(uvs))
		if err != nil {
			return 0, err
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		key.vn, err = objIndex(parts[2], len(normals))
		if err != nil {
			return 0, err
		}
	}

	if idx, ok := seen[key]; ok {
		return idx, nil
	}
	idx := uint32(len(mesh.Positions))
	mesh.Positions = append(mesh.Positions, positions[key.v-1])
	if key.vt > 0 {
		mesh.UVs = append(mesh.UVs, uvs[key.vt-1])
	} else {
		mesh.UVs = append(mesh.UVs, mgl32.Vec2{})
	}
	if key.vn > 0 {
		mesh.Normals = append(mesh.Normals, normals[key.vn-1])
	} else {
		mesh.Normals = append(mesh.Normals, mgl32.Vec3{0, 1, 0})
	}
	seen[key] = idx
	return idx, nil
}

func objIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad index %q", s)
	}
	if i < 0 {
		i = n + i + 1 // OBJ negative indices count from the end
	}
	if i < 1 || i > n {
		return 0, fmt.Errorf("index %d out of range (1..%d)", i, n)
	}
	return i, nil
}
