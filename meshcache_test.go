package rubble

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

type fakeMeshSource struct {
	meshes map[string]*MeshData
	delay  time.Duration
	loads  int
}

func (s *fakeMeshSource) Load(path string) (*MeshData, error) {
	s.loads++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	mesh, ok := s.meshes[path]
	if !ok {
		return nil, ErrMeshNotFound
	}
	return mesh, nil
}

func quadMesh() *MeshData {
	return &MeshData{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		UVs:       []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func newTestCache(src *fakeMeshSource) (*MeshCache, *NullGpuBackend) {
	backend := NewNullGpuBackend()
	cache := NewMeshCache(src, backend, MeshCacheConfig{LoadTimeoutS: 5}, NewNopLogger())
	return cache, backend
}

func TestMeshCacheDedup(t *testing.T) {
	src := &fakeMeshSource{meshes: map[string]*MeshData{"wall.obj": quadMesh()}}
	cache, backend := newTestCache(src)

	id1, err := cache.Load("wall.obj")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	id2, err := cache.Load("wall.obj")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same path must dedupe to one id, got %d and %d", id1, id2)
	}
	if src.loads != 1 {
		t.Errorf("disk should be hit once, got %d", src.loads)
	}
	if cache.RefCount(id1) != 2 {
		t.Errorf("refcount should be 2, got %d", cache.RefCount(id1))
	}
	if backend.LiveBuffers() != 1 {
		t.Errorf("one GPU buffer expected, got %d", backend.LiveBuffers())
	}
}

func TestMeshCacheLoadReleasePair(t *testing.T) {
	src := &fakeMeshSource{meshes: map[string]*MeshData{"wall.obj": quadMesh()}}
	cache, backend := newTestCache(src)

	id, _ := cache.Load("wall.obj")
	if err := cache.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	// load;release leaves no net GPU allocation.
	if backend.LiveBuffers() != 0 {
		t.Errorf("buffers should be freed at refcount zero, %d live", backend.LiveBuffers())
	}
	if cache.LiveCount() != 0 {
		t.Errorf("record should be dropped, %d live", cache.LiveCount())
	}
}

func TestMeshCacheAddReference(t *testing.T) {
	src := &fakeMeshSource{meshes: map[string]*MeshData{"wall.obj": quadMesh()}}
	cache, backend := newTestCache(src)

	id, _ := cache.Load("wall.obj")
	if err := cache.AddReference(id); err != nil {
		t.Fatalf("add reference: %v", err)
	}
	cache.Release(id)
	if backend.LiveBuffers() != 1 {
		t.Errorf("aliased mesh must survive one release")
	}
	cache.Release(id)
	if backend.LiveBuffers() != 0 {
		t.Errorf("mesh must free after final release")
	}
}

func TestMeshCacheForceUnload(t *testing.T) {
	src := &fakeMeshSource{meshes: map[string]*MeshData{"wall.obj": quadMesh()}}
	cache, backend := newTestCache(src)

	id, _ := cache.Load("wall.obj")
	cache.Load("wall.obj")
	if err := cache.ForceUnload(id); err != nil {
		t.Fatalf("force unload: %v", err)
	}
	if backend.LiveBuffers() != 0 {
		t.Errorf("force unload bypasses the refcount")
	}
	if err := cache.Release(id); !errors.Is(err, ErrUnknownMeshId) {
		t.Errorf("released id should be unknown after force unload, got %v", err)
	}
}

func TestMeshCacheMissingFile(t *testing.T) {
	src := &fakeMeshSource{meshes: map[string]*MeshData{}}
	cache, _ := newTestCache(src)

	id, err := cache.Load("absent.obj")
	if !errors.Is(err, ErrMeshNotFound) {
		t.Errorf("expected ErrMeshNotFound, got %v", err)
	}
	if id != InvalidMeshId {
		t.Errorf("failed load must return the invalid id")
	}
}

func TestMeshCacheLoadTimeout(t *testing.T) {
	src := &fakeMeshSource{
		meshes: map[string]*MeshData{"slow.obj": quadMesh()},
		delay:  200 * time.Millisecond,
	}
	backend := NewNullGpuBackend()
	cache := NewMeshCache(src, backend, MeshCacheConfig{LoadTimeoutS: 0.02}, NewNopLogger())

	_, err := cache.Load("slow.obj")
	if !errors.Is(err, ErrLoadTimeout) {
		t.Errorf("expected ErrLoadTimeout, got %v", err)
	}
}

func TestParseOBJ(t *testing.T) {
	obj := `
# a unit quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vn 0 0 1
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
`
	mesh, err := ParseOBJ(strings.NewReader(obj))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mesh.Positions) != 4 {
		t.Errorf("expected 4 deduped vertices, got %d", len(mesh.Positions))
	}
	if mesh.TriangleCount() != 2 {
		t.Errorf("quad should fan into 2 triangles, got %d", mesh.TriangleCount())
	}
}

func TestParseOBJBadIndex(t *testing.T) {
	if _, err := ParseOBJ(strings.NewReader("v 0 0 0\nf 1 2 3\n")); err == nil {
		t.Errorf("out-of-range face index must fail")
	}
}
