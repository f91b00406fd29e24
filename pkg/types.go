package pkg

import "sync"

// DepType identifies which Makefile dependency list a link came from.
// Aliased to int (rather than a distinct named type) so its constants
// are interchangeable with plain ints at call sites that predate the
// type, matching the original dsynth dep_type enum's numbering.
type DepType = int

const (
	DepTypeFetch DepType = iota + 1
	DepTypeExtract
	DepTypePatch
	DepTypeBuild
	DepTypeLib
	DepTypeRun
)

// PackageFlags is the bitmask type returned by PortsQuerier.QueryMakefile.
type PackageFlags = int

// Package status flags, set on Package.Flags and tracked per-build in
// BuildState. Mirrors the original dsynth pkg_t flags field.
const (
	PkgFSuccess = 1 << iota
	PkgFFailed
	PkgFSkipped
	PkgFIgnored
	PkgFRunning
	PkgFMeta
	PkgFNotFound
	PkgFCorrupt
	PkgFNoBuildIgnore
	PkgFPackaged
	PkgFPkgPkg
	PkgFManualSel
)

// PkgLink is one edge in the dependency graph, annotated with the
// Makefile dependency list it came from.
type PkgLink struct {
	Pkg     *Package
	DepType DepType
}

// Package is the in-memory record for a single port: its identity,
// Makefile-derived metadata, and its position in the dependency graph.
// Build-time state (flags that change during a run, ignore reason, last
// phase) lives in BuildState/BuildStateRegistry instead, so a Package
// can be shared read-only across concurrent workers.
type Package struct {
	PortDir  string // "category/name" or "category/name@flavor"
	Category string
	Name     string
	Flavor   string
	Version  string
	PkgFile  string

	// Raw Makefile dependency strings, one per dependency class.
	FetchDeps   string
	ExtractDeps string
	PatchDeps   string
	BuildDeps   string
	LibDeps     string
	RunDeps     string

	Flags        int
	IgnoreReason string

	// BuildUUID identifies the most recent build attempt recorded for this
	// package in the build database; set by the build orchestrator.
	BuildUUID string

	// Dependency graph edges.
	IDependOn   []*PkgLink // ports this package needs
	DependsOnMe []*PkgLink // ports that need this package

	DepiCount int // number of DependsOnMe edges seen while linking
	DepiDepth int // longest dependents-path depth, used for scheduling priority

	// Next/Prev chain packages in discovery order; used by callers that
	// want a simple linear walk (e.g. MarkPackagesNeedingBuild) without
	// going through the registry.
	Next *Package
	Prev *Package
}

// PackageRegistry deduplicates Package values by PortDir across
// concurrent dependency resolution workers.
type PackageRegistry struct {
	mu       sync.RWMutex
	byOrigin map[string]*Package
}

// NewPackageRegistry creates an empty registry.
func NewPackageRegistry() *PackageRegistry {
	return &PackageRegistry{
		byOrigin: make(map[string]*Package),
	}
}

// Enter registers pkg under its PortDir, unless a package with the same
// PortDir is already present, in which case the existing one is
// returned and pkg is discarded. Enter is the single place duplicate
// dependency discoveries are collapsed to one *Package.
func (r *PackageRegistry) Enter(p *Package) *Package {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byOrigin[p.PortDir]; ok {
		return existing
	}
	r.byOrigin[p.PortDir] = p
	return p
}

// Find looks up a package by PortDir, returning nil if it is not
// registered yet.
func (r *PackageRegistry) Find(portDir string) *Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byOrigin[portDir]
}

// AllPackages returns every package currently registered, in no
// particular order.
func (r *PackageRegistry) AllPackages() []*Package {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Package, 0, len(r.byOrigin))
	for _, p := range r.byOrigin {
		all = append(all, p)
	}
	return all
}

// Count returns the number of registered packages.
func (r *PackageRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOrigin)
}
