package rubble

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type MeshId uint32

// InvalidMeshId is returned alongside errors; callers substitute their own
// fallback mesh.
const InvalidMeshId MeshId = 0

var (
	ErrMeshNotFound  = errors.New("mesh file not found")
	ErrGpuAllocation = errors.New("gpu buffer allocation failed")
	ErrLoadTimeout   = errors.New("mesh load timed out")
	ErrUnknownMeshId = errors.New("unknown mesh id")
)

// GpuBackend owns vertex/index buffer lifetime on the device. The cache is
// the only caller; nothing else may create or destroy mesh buffers.
type GpuBackend interface {
	CreateMeshBuffers(mesh *MeshData) (gpuHandle uintptr, err error)
	DestroyMeshBuffers(gpuHandle uintptr)
}

// MeshRecord is the cache's view of one loaded mesh.
type MeshRecord struct {
	Id          MeshId
	Path        string
	VertexCount int
	IndexCount  int
	Triangles   int
	Bounds      AABB
	GpuHandle   uintptr

	refCount int
}

// MeshCache deduplicates mesh loads by path and reference-counts GPU
// residency. One mutex serializes everything; critical sections are short.
type MeshCache struct {
	mu       sync.Mutex
	source   MeshSource
	backend  GpuBackend
	timeout  time.Duration
	logger   Logger
	nextId   MeshId
	records  map[MeshId]*MeshRecord
	pathToId map[string]MeshId
}

func NewMeshCache(source MeshSource, backend GpuBackend, cfg MeshCacheConfig, logger Logger) *MeshCache {
	if logger == nil {
		logger = NewNopLogger()
	}
	timeout := time.Duration(cfg.LoadTimeoutS * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MeshCache{
		source:   source,
		backend:  backend,
		timeout:  timeout,
		logger:   logger,
		nextId:   1,
		records:  make(map[MeshId]*MeshRecord),
		pathToId: make(map[string]MeshId),
	}
}

// Load returns the id for path, loading and uploading on first use.
// Subsequent loads of the same path bump the reference count.
func (c *MeshCache) Load(path string) (MeshId, error) {
	c.mu.Lock()
	if id, ok := c.pathToId[path]; ok {
		c.records[id].refCount++
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	// Disk and GPU work happen outside the lock; a racing duplicate load is
	// resolved below by re-checking the path map before committing.
	mesh, err := c.loadWithTimeout(path)
	if err != nil {
		return InvalidMeshId, err
	}

	handle, err := c.backend.CreateMeshBuffers(mesh)
	if err != nil {
		return InvalidMeshId, fmt.Errorf("%w: %s: %v", ErrGpuAllocation, path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.pathToId[path]; ok {
		// Lost the race; drop our upload and alias the winner.
		c.backend.DestroyMeshBuffers(handle)
		c.records[id].refCount++
		return id, nil
	}

	id := c.nextId
	c.nextId++
	c.records[id] = &MeshRecord{
		Id:          id,
		Path:        path,
		VertexCount: len(mesh.Positions),
		IndexCount:  len(mesh.Indices),
		Triangles:   mesh.TriangleCount(),
		Bounds:      mesh.Bounds(),
		GpuHandle:   handle,
		refCount:    1,
	}
	c.pathToId[path] = id
	return id, nil
}

func (c *MeshCache) loadWithTimeout(path string) (*MeshData, error) {
	type result struct {
		mesh *MeshData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		mesh, err := c.source.Load(path)
		ch <- result{mesh, err}
	}()
	select {
	case res := <-ch:
		return res.mesh, res.err
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("%w: %s after %s", ErrLoadTimeout, path, c.timeout)
	}
}

// AddReference bumps the count for an already-loaded mesh (aliasing).
func (c *MeshCache) AddReference(id MeshId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMeshId, id)
	}
	rec.refCount++
	return nil
}

// Release decrements; the GPU buffers are freed when the count hits zero.
func (c *MeshCache) Release(id MeshId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMeshId, id)
	}
	rec.refCount--
	if rec.refCount > 0 {
		return nil
	}
	c.backend.DestroyMeshBuffers(rec.GpuHandle)
	delete(c.records, id)
	delete(c.pathToId, rec.Path)
	return nil
}

// ForceUnload frees a mesh regardless of its reference count. Editor/tool
// use only; live references become dangling.
func (c *MeshCache) ForceUnload(id MeshId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMeshId, id)
	}
	if rec.refCount > 0 {
		c.logger.Warnf("force-unloading mesh %q with %d live references", rec.Path, rec.refCount)
	}
	c.backend.DestroyMeshBuffers(rec.GpuHandle)
	delete(c.records, id)
	delete(c.pathToId, rec.Path)
	return nil
}

// Get returns a copy of the record for id.
func (c *MeshCache) Get(id MeshId) (MeshRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return MeshRecord{}, false
	}
	return *rec, true
}

// RefCount is exposed for tests and diagnostics.
func (c *MeshCache) RefCount(id MeshId) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		return rec.refCount
	}
	return 0
}

func (c *MeshCache) LiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// NullGpuBackend counts allocations without a device. Used headless and in
// tests; also what the cache falls back to when the host passes nil.
type NullGpuBackend struct {
	mu     sync.Mutex
	nextId uintptr
	live   map[uintptr]bool
}

func NewNullGpuBackend() *NullGpuBackend {
	return &NullGpuBackend{nextId: 1, live: make(map[uintptr]bool)}
}

func (b *NullGpuBackend) CreateMeshBuffers(mesh *MeshData) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.nextId
	b.nextId++
	b.live[h] = true
	return h, nil
}

func (b *NullGpuBackend) DestroyMeshBuffers(h uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.live, h)
}

func (b *NullGpuBackend) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// MeshCacheModule installs the cache as a resource.
type MeshCacheModule struct {
	Source  MeshSource
	Backend GpuBackend
	Config  MeshCacheConfig
}

func (m MeshCacheModule) Install(app *App, cmd *Commands) {
	source := m.Source
	if source == nil {
		source = FileMeshSource{}
	}
	backend := m.Backend
	if backend == nil {
		backend = NewNullGpuBackend()
	}
	cmd.AddResources(NewMeshCache(source, backend, m.Config, app.Logger()))
}
