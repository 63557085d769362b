package gpu

// WGSL sources for the two-pass Voronoi pipeline.
//
// Pass 1 walks an 8^3-workgroup lattice over the fracture bounds, assigns
// every lattice point to its nearest seed (the distance field), and emits
// points that sit on a cell boundary or the bounds surface into the
// per-cell vertex pool via an atomic cursor.
//
// Pass 2 runs one workgroup per cell and gift-wraps the pooled points into
// a convex hull, emitting triangle indices and face normals.

const voronoiPass1WGSL = `
struct Params {
    bounds_min : vec4<f32>,
    bounds_max : vec4<f32>,
    grid_dim   : vec4<u32>, // xyz = lattice resolution, w = seed count
    limits     : vec4<u32>, // x = max verts per cell
};

@group(0) @binding(0) var<uniform> params : Params;
@group(0) @binding(1) var<storage, read> seeds : array<vec4<f32>>;
@group(0) @binding(2) var<storage, read_write> cell_counts : array<atomic<u32>>;
@group(0) @binding(3) var<storage, read_write> cell_verts : array<vec4<f32>>;

fn nearest_seed(p : vec3<f32>) -> u32 {
    var best : u32 = 0u;
    var best_d : f32 = 1e30;
    for (var i : u32 = 0u; i < params.grid_dim.w; i = i + 1u) {
        let d = distance(p, seeds[i].xyz);
        if (d < best_d) {
            best_d = d;
            best = i;
        }
    }
    return best;
}

@compute @workgroup_size(8, 8, 8)
fn main(@builtin(global_invocation_id) gid : vec3<u32>) {
    if (gid.x >= params.grid_dim.x || gid.y >= params.grid_dim.y || gid.z >= params.grid_dim.z) {
        return;
    }
    let ext = params.bounds_max.xyz - params.bounds_min.xyz;
    let t = (vec3<f32>(gid) + vec3<f32>(0.5)) / vec3<f32>(params.grid_dim.xyz);
    let p = params.bounds_min.xyz + t * ext;

    let owner = nearest_seed(p);

    // Boundary test: any 6-neighbour lattice point owned by another cell,
    // or the point lies on the outer shell.
    var boundary = gid.x == 0u || gid.y == 0u || gid.z == 0u
        || gid.x == params.grid_dim.x - 1u
        || gid.y == params.grid_dim.y - 1u
        || gid.z == params.grid_dim.z - 1u;
    if (!boundary) {
        let step = ext / vec3<f32>(params.grid_dim.xyz);
        if (nearest_seed(p + vec3<f32>(step.x, 0.0, 0.0)) != owner) { boundary = true; }
        if (!boundary && nearest_seed(p - vec3<f32>(step.x, 0.0, 0.0)) != owner) { boundary = true; }
        if (!boundary && nearest_seed(p + vec3<f32>(0.0, step.y, 0.0)) != owner) { boundary = true; }
        if (!boundary && nearest_seed(p - vec3<f32>(0.0, step.y, 0.0)) != owner) { boundary = true; }
        if (!boundary && nearest_seed(p + vec3<f32>(0.0, 0.0, step.z)) != owner) { boundary = true; }
        if (!boundary && nearest_seed(p - vec3<f32>(0.0, 0.0, step.z)) != owner) { boundary = true; }
    }
    if (!boundary) {
        return;
    }

    let slot = atomicAdd(&cell_counts[owner], 1u);
    if (slot >= params.limits.x) {
        return;
    }
    cell_verts[owner * params.limits.x + slot] = vec4<f32>(p, 1.0);
}
`

const voronoiPass2WGSL = `
struct Params {
    bounds_min : vec4<f32>,
    bounds_max : vec4<f32>,
    grid_dim   : vec4<u32>,
    limits     : vec4<u32>, // x = max verts per cell, y = max tris per cell
};

@group(0) @binding(0) var<uniform> params : Params;
@group(0) @binding(1) var<storage, read> cell_counts : array<u32>;
@group(0) @binding(2) var<storage, read> cell_verts : array<vec4<f32>>;
@group(0) @binding(3) var<storage, read_write> tri_counts : array<atomic<u32>>;
@group(0) @binding(4) var<storage, read_write> tris : array<vec4<u32>>;
@group(0) @binding(5) var<storage, read_write> normals : array<vec4<f32>>;

// Gift-wrapping over the pooled boundary points of one cell. Single thread
// per cell; cells are independent so the dispatch saturates anyway.
@compute @workgroup_size(1)
fn main(@builtin(workgroup_id) wid : vec3<u32>) {
    let cell = wid.x;
    let base = cell * params.limits.x;
    var count = cell_counts[cell];
    if (count > params.limits.x) {
        count = params.limits.x;
    }
    if (count < 4u) {
        return;
    }

    let centroid_denom = f32(count);
    var centroid = vec3<f32>(0.0);
    for (var i = 0u; i < count; i = i + 1u) {
        centroid = centroid + cell_verts[base + i].xyz;
    }
    centroid = centroid / centroid_denom;

    // Wrap every point triple whose plane has all other points behind it.
    for (var i = 0u; i < count; i = i + 1u) {
        for (var j = i + 1u; j < count; j = j + 1u) {
            for (var k = j + 1u; k < count; k = k + 1u) {
                let a = cell_verts[base + i].xyz;
                let b = cell_verts[base + j].xyz;
                let c = cell_verts[base + k].xyz;
                var n = cross(b - a, c - a);
                if (dot(n, n) < 1e-12) {
                    continue;
                }
                n = normalize(n);
                // Orient away from the centroid.
                if (dot(n, a - centroid) < 0.0) {
                    n = -n;
                }
                var hull_face = true;
                for (var m = 0u; m < count; m = m + 1u) {
                    if (m == i || m == j || m == k) {
                        continue;
                    }
                    if (dot(n, cell_verts[base + m].xyz - a) > 1e-5) {
                        hull_face = false;
                        break;
                    }
                }
                if (!hull_face) {
                    continue;
                }
                let slot = atomicAdd(&tri_counts[cell], 1u);
                if (slot >= params.limits.y) {
                    return;
                }
                let out = cell * params.limits.y + slot;
                tris[out] = vec4<u32>(i, j, k, cell);
                normals[out] = vec4<f32>(n, 0.0);
            }
        }
    }
}
`
