package scheduler

import (
	"testing"

	"dsynth/log"
	"dsynth/pkg"
)

// link wires a->b as a dependency edge (a depends on b) in both directions,
// matching how pkg's dependency resolver populates IDependOn/DependsOnMe.
func link(a, b *pkg.Package) {
	a.IDependOn = append(a.IDependOn, &pkg.PkgLink{Pkg: b, DepType: pkg.DepTypeBuild})
	b.DependsOnMe = append(b.DependsOnMe, &pkg.PkgLink{Pkg: a, DepType: pkg.DepTypeBuild})
}

func pk(portDir string) *pkg.Package {
	return &pkg.Package{PortDir: portDir, Category: "cat", Name: portDir}
}

// TestSchedulerEmptyDAG covers the §8 boundary behaviour: empty input
// drains immediately and Acquire never blocks.
func TestSchedulerEmptyDAG(t *testing.T) {
	s, err := NewScheduler(nil, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Drained() {
		t.Fatalf("expected empty scheduler to be drained")
	}
	if _, ok := s.Acquire(); ok {
		t.Fatalf("expected Acquire on empty scheduler to return ok=false")
	}
}

// TestSchedulerLinearChain is scenario 1 from §8: a -> b -> c, all succeed.
func TestSchedulerLinearChain(t *testing.T) {
	a, b, c := pk("cat/a"), pk("cat/b"), pk("cat/c")
	link(b, a) // b depends on a
	link(c, b) // c depends on b

	s, err := NewScheduler([]*pkg.Package{a, b, c}, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var order []string
	for {
		p, ok := s.Acquire()
		if !ok {
			break
		}
		order = append(order, p.PortDir)
		s.Complete(p, true)
	}

	want := []string{"cat/a", "cat/b", "cat/c"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if len(s.DrainSkipped()) != 0 {
		t.Fatalf("expected no skipped packages")
	}
}

// TestSchedulerFailurePropagates is scenario 2: a -> b, a -> c, b -> d; a
// fails, so b, c, and d are all skipped without ever being dispatched.
func TestSchedulerFailurePropagates(t *testing.T) {
	a, b, c, d := pk("cat/a"), pk("cat/b"), pk("cat/c"), pk("cat/d")
	link(b, a)
	link(c, a)
	link(d, b)

	s, err := NewScheduler([]*pkg.Package{a, b, c, d}, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := s.Acquire()
	if !ok || p.PortDir != "cat/a" {
		t.Fatalf("expected to acquire cat/a first, got %v ok=%v", p, ok)
	}
	s.Complete(p, false)

	if _, ok := s.Acquire(); ok {
		t.Fatalf("expected no further dispatch after the only root failed")
	}
	if !s.Drained() {
		t.Fatalf("expected scheduler to be drained after failure propagation")
	}

	skipped := s.DrainSkipped()
	if len(skipped) != 3 {
		t.Fatalf("expected 3 skipped packages, got %d: %v", len(skipped), skipped)
	}
	seen := make(map[string]bool)
	for _, sp := range skipped {
		seen[sp.PortDir] = true
	}
	for _, want := range []string{"cat/b", "cat/c", "cat/d"} {
		if !seen[want] {
			t.Fatalf("expected %s to be skipped, got %v", want, skipped)
		}
	}
}

// TestSchedulerDiamondWaitsForBothParents is scenario 3: a -> b, a -> c,
// b -> d, c -> d. d must not become ready until both b and c are Done.
func TestSchedulerDiamondWaitsForBothParents(t *testing.T) {
	a, b, c, d := pk("cat/a"), pk("cat/b"), pk("cat/c"), pk("cat/d")
	link(b, a)
	link(c, a)
	link(d, b)
	link(d, c)

	s, err := NewScheduler([]*pkg.Package{a, b, c, d}, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := s.Acquire()
	if !ok || p.PortDir != "cat/a" {
		t.Fatalf("expected cat/a first, got %v", p)
	}
	s.Complete(p, true)

	// b and c are both now ready; d must not appear until both complete.
	first, ok := s.Acquire()
	if !ok {
		t.Fatalf("expected a second ready package")
	}
	if first.PortDir != "cat/b" && first.PortDir != "cat/c" {
		t.Fatalf("expected b or c, got %s", first.PortDir)
	}

	second, ok := s.Acquire()
	if !ok {
		t.Fatalf("expected a third ready package")
	}
	if second.PortDir == first.PortDir {
		t.Fatalf("expected distinct packages, got %s twice", first.PortDir)
	}

	s.Complete(first, true)
	if _, ok := s.Acquire(); ok {
		t.Fatalf("expected d to stay blocked until both b and c complete")
	}

	s.Complete(second, true)
	d2, ok := s.Acquire()
	if !ok || d2.PortDir != "cat/d" {
		t.Fatalf("expected cat/d to become ready once both parents completed, got %v ok=%v", d2, ok)
	}
	s.Complete(d2, true)

	if !s.Drained() {
		t.Fatalf("expected scheduler to be drained")
	}
}

// TestSchedulerDiamondSkipNotResurrected guards the fix where d depends on
// both b and c; b fails (skipping d transitively) but c still succeeds
// afterward. c's completion must not re-add d to the ready queue.
func TestSchedulerDiamondSkipNotResurrected(t *testing.T) {
	a, b, c, d := pk("cat/a"), pk("cat/b"), pk("cat/c"), pk("cat/d")
	link(b, a)
	link(c, a)
	link(d, b)
	link(d, c)

	s, err := NewScheduler([]*pkg.Package{a, b, c, d}, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _ := s.Acquire()
	if p.PortDir != "cat/a" {
		t.Fatalf("expected cat/a first, got %s", p.PortDir)
	}
	s.Complete(p, true)

	first, ok := s.Acquire()
	if !ok {
		t.Fatalf("expected b or c to be ready")
	}

	var failed, other *pkg.Package
	if first.PortDir == "cat/b" {
		failed = first
	} else {
		other = first
	}

	second, ok := s.Acquire()
	if !ok {
		t.Fatalf("expected the other of b/c to be ready")
	}
	if failed == nil {
		failed = second
	} else {
		other = second
	}

	s.Complete(failed, false) // b fails: d and everything reachable from b is skipped
	s.Complete(other, true)   // c succeeds afterward

	if _, ok := s.Acquire(); ok {
		t.Fatalf("expected d to remain skipped, not resurrected by c's success")
	}
	if !s.Drained() {
		t.Fatalf("expected scheduler to be drained")
	}

	skipped := s.DrainSkipped()
	if len(skipped) != 1 || skipped[0].PortDir != "cat/d" {
		t.Fatalf("expected only cat/d skipped, got %v", skipped)
	}
}

// TestSchedulerFanOutOrdering is scenario 4 from §8: ready set {x, y} with
// dependent counts 5 and 0; x must dispatch first.
func TestSchedulerFanOutOrdering(t *testing.T) {
	x := pk("cat/x")
	y := pk("cat/y")
	for i := 0; i < 5; i++ {
		dep := pk("cat/dependent")
		link(dep, x)
	}

	s, err := NewScheduler([]*pkg.Package{x, y}, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := s.Acquire()
	if !ok || p.PortDir != "cat/x" {
		t.Fatalf("expected cat/x dispatched first due to higher fan-out, got %v", p)
	}
}

// TestSchedulerDetectsCycle covers §4.5: a cycle among the scheduled
// packages must be refused at construction, never surfaced as a deadlock.
func TestSchedulerDetectsCycle(t *testing.T) {
	a, b, c := pk("cat/a"), pk("cat/b"), pk("cat/c")
	link(a, b)
	link(b, c)
	link(c, a)

	_, err := NewScheduler([]*pkg.Package{a, b, c}, log.NoOpLogger{})
	if err == nil {
		t.Fatalf("expected cycle detection error")
	}
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(cycleErr.Remaining) != 3 {
		t.Fatalf("expected all 3 packages listed as remaining, got %d", len(cycleErr.Remaining))
	}
}

// TestSchedulerOrderingIsDeterministic is the determinism law from §8: given
// identical inputs and a single-threaded consumer, Acquire's sequence is
// reproducible run to run.
func TestSchedulerOrderingIsDeterministic(t *testing.T) {
	build := func() []*pkg.Package {
		a, b, c, d := pk("cat/a"), pk("cat/b"), pk("cat/c"), pk("cat/d")
		link(b, a)
		link(c, a)
		link(d, b)
		link(d, c)
		return []*pkg.Package{a, b, c, d}
	}

	run := func() []string {
		s, err := NewScheduler(build(), log.NoOpLogger{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var order []string
		for {
			p, ok := s.Acquire()
			if !ok {
				break
			}
			order = append(order, p.PortDir)
			s.Complete(p, true)
		}
		return order
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("expected equal-length orders, got %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected deterministic order, got %v vs %v", first, second)
		}
	}
}

// TestSchedulerNilReceiverIsSafe matches the teacher's nil-receiver
// convention so call sites that drive a worker loop without attaching a
// scheduler (e.g. older unit tests building a BuildContext by hand) keep
// working.
func TestSchedulerNilReceiverIsSafe(t *testing.T) {
	var s *Scheduler
	if !s.Drained() {
		t.Fatalf("expected nil scheduler to report drained")
	}
	if _, ok := s.Acquire(); ok {
		t.Fatalf("expected nil scheduler Acquire to report ok=false")
	}
	s.Complete(pk("cat/a"), true) // must not panic
	if got := s.DrainSkipped(); got != nil {
		t.Fatalf("expected nil scheduler DrainSkipped to return nil, got %v", got)
	}
	s.Stop() // must not panic
	if s.Stopped() {
		t.Fatalf("expected nil scheduler Stopped to report false")
	}
}

// TestSchedulerStopSkipsOnlyUndispatched covers the keep-going=false path:
// Stop must skip packages never handed to a worker, leave an in-flight
// package alone, and never resurrect anything once it's acquired.
func TestSchedulerStopSkipsOnlyUndispatched(t *testing.T) {
	a, b, c := pk("cat/a"), pk("cat/b"), pk("cat/c")
	// a and c are independent roots; b depends on a.
	link(b, a)

	s, err := NewScheduler([]*pkg.Package{a, b, c}, log.NoOpLogger{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := s.Acquire()
	if !ok {
		t.Fatalf("expected first Acquire to succeed")
	}
	// One of {a, c} is now in flight; leave it running and stop the rest.
	s.Stop()
	if !s.Stopped() {
		t.Fatalf("expected Stopped() to report true after Stop")
	}

	skipped := s.DrainSkipped()
	if len(skipped) != 2 {
		t.Fatalf("expected the 2 undispatched packages to be skipped, got %d: %v", len(skipped), skipped)
	}

	// Completing the in-flight package must not resurrect anything, and
	// Acquire must now report the scheduler drained rather than block.
	s.Complete(p, true)
	if !s.Drained() {
		t.Fatalf("expected scheduler to be drained once the in-flight package completes")
	}
	if _, ok := s.Acquire(); ok {
		t.Fatalf("expected Acquire after drain to report ok=false")
	}
	if got := s.DrainSkipped(); len(got) != 0 {
		t.Fatalf("expected no further skips from completing the in-flight package, got %v", got)
	}
}
