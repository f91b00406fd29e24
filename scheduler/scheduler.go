// Package scheduler hands out packages to build workers in dependency order
// without the caller having to poll. A worker blocks in Acquire until a
// package with no outstanding dependencies is ready, and reports the outcome
// through Complete so the scheduler can release whatever that unblocks (or,
// on failure, propagate a skip to every downstream dependent).
package scheduler

import (
	"sort"
	"sync"

	"dsynth/log"
	"dsynth/pkg"
)

// CycleError reports that the scheduled package set contains a dependency
// cycle, discovered at construction time rather than as a deadlock later.
type CycleError struct {
	Remaining []*pkg.Package
}

func (e *CycleError) Error() string {
	return "scheduler: dependency cycle among remaining packages"
}

// Scheduler owns the ready queue and in-flight bookkeeping for one build
// run's set of packages. It is safe for concurrent Acquire/Complete calls
// from multiple worker goroutines.
type Scheduler struct {
	mu    sync.Mutex
	cond  *sync.Cond
	inSet map[*pkg.Package]bool

	inDegree   map[*pkg.Package]int
	dependents map[*pkg.Package][]*pkg.Package

	ready      []*pkg.Package
	dispatched map[*pkg.Package]bool // ever returned by Acquire; Stop must not touch these
	inFlight   int
	remaining  int // packages neither dispatched, in-flight, nor finished
	skipped    []*pkg.Package // accumulated since the last DrainSkipped call
	stopped    bool

	logger log.LibraryLogger
}

// NewScheduler builds the dependency graph for packages, restricted to edges
// between members of packages itself; dependencies already satisfied before
// the run started (e.g. a prior successful build) should simply be left out
// of packages so they never gate anything here. Returns a *CycleError if the
// set cannot be fully ordered.
func NewScheduler(packages []*pkg.Package, logger log.LibraryLogger) (*Scheduler, error) {
	if logger == nil {
		logger = log.NoOpLogger{}
	}

	s := &Scheduler{
		inSet:      make(map[*pkg.Package]bool, len(packages)),
		inDegree:   make(map[*pkg.Package]int, len(packages)),
		dependents: make(map[*pkg.Package][]*pkg.Package, len(packages)),
		dispatched: make(map[*pkg.Package]bool, len(packages)),
		remaining:  len(packages),
		logger:     logger,
	}
	s.cond = sync.NewCond(&s.mu)

	for _, p := range packages {
		s.inSet[p] = true
	}

	for _, p := range packages {
		degree := 0
		for _, link := range p.IDependOn {
			if s.inSet[link.Pkg] {
				degree++
				s.dependents[link.Pkg] = append(s.dependents[link.Pkg], p)
			}
		}
		s.inDegree[p] = degree
	}

	initial := make([]*pkg.Package, 0, len(packages))
	for _, p := range packages {
		if s.inDegree[p] == 0 {
			initial = append(initial, p)
		}
	}
	sortByPriority(initial)
	s.ready = initial

	// Dry-run Kahn's algorithm on a copy of the in-degrees: any package it
	// never reaches sits on or behind a cycle.
	deg := make(map[*pkg.Package]int, len(s.inDegree))
	for p, d := range s.inDegree {
		deg[p] = d
	}
	order := append([]*pkg.Package(nil), initial...)
	for i := 0; i < len(order); i++ {
		for _, dep := range s.dependents[order[i]] {
			if deg[dep]--; deg[dep] == 0 {
				order = append(order, dep)
			}
		}
	}
	if len(order) < len(packages) {
		return nil, &CycleError{Remaining: packages}
	}

	return s, nil
}

// sortByPriority mirrors pkg's build-order tie-break: highest fan-out
// (direct dependents) first, then deepest dependents path, then
// lexicographic PortDir.
func sortByPriority(queue []*pkg.Package) {
	sort.Slice(queue, func(i, j int) bool {
		pi, pj := queue[i], queue[j]
		if li, lj := len(pi.DependsOnMe), len(pj.DependsOnMe); li != lj {
			return li > lj
		}
		if pi.DepiDepth != pj.DepiDepth {
			return pi.DepiDepth > pj.DepiDepth
		}
		return pi.PortDir < pj.PortDir
	})
}

// Acquire blocks until a package with no outstanding dependencies is
// available, or the scheduler is fully drained (nothing left to dispatch,
// nothing still in flight). ok is false only in the drained case. A nil
// *Scheduler is treated as already drained.
func (s *Scheduler) Acquire() (p *pkg.Package, ok bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.ready) == 0 {
		if s.remaining == 0 && s.inFlight == 0 {
			return nil, false
		}
		s.cond.Wait()
	}

	p = s.ready[0]
	s.ready = s.ready[1:]
	s.dispatched[p] = true
	s.remaining--
	s.inFlight++
	return p, true
}

// Stop cancels every package not yet handed to a worker, marking it skipped,
// and lets in-flight builds run to completion. Used to honor keep-going=false:
// the first failure ends the campaign without killing builds already
// underway. A nil *Scheduler is a no-op.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	for p := range s.inSet {
		if s.dispatched[p] {
			continue
		}
		delete(s.inSet, p)
		s.remaining--
		s.skipped = append(s.skipped, p)
	}
	s.ready = nil

	s.cond.Broadcast()
}

// Complete reports the outcome of a package dispatched by Acquire. On
// success, dependents whose last outstanding edge was p become ready. On
// failure, every transitive dependent is skipped (never dispatched) and
// collected for the next DrainSkipped call. A nil *Scheduler is a no-op,
// for callers exercising the worker loop without a scheduler attached.
func (s *Scheduler) Complete(p *pkg.Package, success bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight--

	if success {
		newlyReady := make([]*pkg.Package, 0)
		for _, dep := range s.dependents[p] {
			if !s.inSet[dep] {
				// Already skipped via a different failed dependency (diamond
				// case); this edge clearing must not resurrect it.
				continue
			}
			s.inDegree[dep]--
			if s.inDegree[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		if len(newlyReady) > 0 {
			sortByPriority(newlyReady)
			s.ready = append(s.ready, newlyReady...)
			sortByPriority(s.ready)
		}
	} else {
		s.skipDependents(p)
	}

	s.cond.Broadcast()
}

// skipDependents walks the dependent graph breadth-first from a failed
// package, removing every transitive dependent from remaining/ready so they
// are never dispatched to a worker.
func (s *Scheduler) skipDependents(p *pkg.Package) {
	queue := append([]*pkg.Package(nil), s.dependents[p]...)
	seen := make(map[*pkg.Package]bool)

	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if seen[dep] {
			continue
		}
		seen[dep] = true

		if s.inSet[dep] {
			delete(s.inSet, dep)
			s.remaining--
			s.skipped = append(s.skipped, dep)
			s.logger.Debug("skipping %s: dependency failed", dep.PortDir)
		}

		queue = append(queue, s.dependents[dep]...)
	}

	if len(seen) == 0 {
		return
	}

	filtered := s.ready[:0:0]
	for _, r := range s.ready {
		if !seen[r] {
			filtered = append(filtered, r)
		}
	}
	s.ready = filtered
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Drained reports whether every scheduled package has either been
// dispatched-and-completed or skipped due to a failed dependency.
func (s *Scheduler) Drained() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) == 0 && s.remaining == 0 && s.inFlight == 0
}

// DrainSkipped returns every package skipped due to a failed dependency
// since the last call, and clears the internal buffer.
func (s *Scheduler) DrainSkipped() []*pkg.Package {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.skipped
	s.skipped = nil
	return out
}
