// Package build provides parallel port building orchestration with CRC-based
// incremental builds. It manages worker pools, dependency ordering, and build
// lifecycle tracking through an embedded bbolt database.
//
// The build system automatically skips unchanged ports by computing CRC32
// checksums of port directories and comparing them with stored values from
// previous successful builds.
//
// # Build Workflow
//
// 1. Parse port specifications and resolve dependencies
// 2. Compute topological build order
// 3. For each port:
//   - Compute CRC32 of port directory
//   - Check if port needs building (NeedsBuild)
//   - Skip if CRC matches last successful build
//   - Otherwise, build and update CRC on success
//
// 4. Track all builds with UUIDs, status, and timestamps
//
// # Basic Usage
//
//	cfg, _ := config.LoadConfig("", "default")
//	logger, _ := log.NewLogger(cfg)
//	db, _ := builddb.OpenDB("~/.go-synth/builds.db")
//	defer db.Close()
//
//	pkgRegistry := pkg.NewPackageRegistry()
//	stateRegistry := pkg.NewBuildStateRegistry()
//	packages, _ := pkg.ParsePortList([]string{"editors/vim"}, cfg, stateRegistry, pkgRegistry, logger)
//	pkg.ResolveDependencies(packages, cfg, stateRegistry, pkgRegistry, logger)
//
//	stats, cleanup, _ := DoBuild(packages, cfg, logger, db, stateRegistry, pkgRegistry, "")
//	defer cleanup()
//
//	fmt.Printf("Success: %d, Already built: %d\n", stats.Success, stats.SkippedPre)
//
// # Incremental Builds
//
// The build system uses CRC-based change detection to skip unchanged ports:
//
//	First build:  editors/vim -> builds (no CRC stored)
//	Second build: editors/vim -> skipped (CRC match)
//	After edit:   editors/vim -> rebuilds (CRC mismatch)
//
// # Build Records
//
// Every build creates a record in the database with:
//   - Unique UUID for tracking
//   - Status: "running" â†’ "success" or "failed"
//   - Timestamps: StartTime and EndTime
//   - Port directory and version
//
// Query build history:
//
//	rec, _ := db.LatestFor("editors/vim", "9.0.0")
//	fmt.Printf("Last build: %s at %s\n", rec.UUID, rec.StartTime)
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dsynth/builddb"
	"dsynth/config"
	"dsynth/environment"
	"dsynth/log"
	"dsynth/pkg"
	"dsynth/scheduler"

	"github.com/google/uuid"
)

// BuildStats tracks build statistics
type BuildStats struct {
	Total      int
	Success    int
	Failed     int
	SkippedPre int // already built before this run (CRC match or prior PkgFSuccess)
	Skipped    int // dependency failed, never dispatched
	Ignored    int
	Duration   time.Duration
}

// Worker represents a build worker. Status walks idle -> mounting ->
// building -> reaping -> unmounting -> idle for every dispatched port, or
// idle -> mounting -> failed if the sandbox can't be provisioned (the slot
// is then retired for the rest of the campaign).
type Worker struct {
	ID        int
	Env       environment.Environment // sandbox for the port currently assigned; nil while idle
	Current   *pkg.Package
	Status    string
	StartTime time.Time
	mu        sync.Mutex
}

// BuildContext holds the build orchestration state.
// It manages worker pools, dependency tracking, and integrates with builddb
// for CRC-based incremental builds and build record lifecycle tracking.
type BuildContext struct {
	ctx       context.Context
	cancel    context.CancelFunc // optional; lets a caller unblock workerLoop early
	cfg       *config.Config
	logger    *log.Logger
	registry  *pkg.BuildStateRegistry
	buildDB   *builddb.DB
	runID     string
	sched     *scheduler.Scheduler
	workers   []*Worker
	queue     chan *pkg.Package
	stats     BuildStats
	statsMu   sync.Mutex
	startTime time.Time
	wg        sync.WaitGroup

	// envFactory creates a fresh sandbox Environment for each dispatched
	// port; nil in tests that hand workerLoop a pre-built Worker.Env
	// directly (e.g. a mock) and don't want the per-port mount lifecycle.
	envFactory func() (environment.Environment, error)

	// activeWorkers counts worker slots that have not permanently failed
	// (SlotMountError). The last slot to fail stops the scheduler so the
	// campaign ends instead of hanging with no worker left to drain it.
	activeWorkers int32
}

// DoBuild executes the main build process with CRC-based incremental builds.
//
// For each package in the build order:
//   - Computes CRC32 of port directory
//   - Checks if rebuild is needed (CRC comparison)
//   - Skips unchanged ports (increments stats.SkippedPre)
//   - Builds changed ports with full lifecycle tracking
//
// Returns build statistics, cleanup function, and error.
// The cleanup function must be called to unmount worker filesystems.
//
// Build lifecycle for each port:
//  1. Generate UUID
//  2. SaveRecord with status="running"
//  3. Execute build phases
//  4. UpdateRecordStatus to "success" or "failed"
//  5. Update CRC and package index (on success only)
// registry, when non-nil, carries over flags already recorded during
// parsing/dependency resolution (e.g. PkgFManualSel, PkgFIgnored); pass nil
// to let DoBuild create a fresh one. pkgRegistry is accepted for parity with
// the parse/resolve phase but DoBuild only needs the registry's IDependOn/
// DependsOnMe graph already present on packages. runLabel identifies this
// invocation in the build database's run history; an empty string generates
// a new UUID.
func DoBuild(packages []*pkg.Package, cfg *config.Config, logger *log.Logger, buildDB *builddb.DB, registry *pkg.BuildStateRegistry, pkgRegistry *pkg.PackageRegistry, runLabel string) (*BuildStats, func(), error) {
	// Get build order (topological sort)
	buildOrder := pkg.GetBuildOrder(packages, logger)

	if registry == nil {
		registry = pkg.NewBuildStateRegistry()
	}

	runID := runLabel
	if runID == "" {
		runID = uuid.New().String()
	}
	if err := buildDB.StartRun(runID, time.Now()); err != nil {
		logger.Error("Failed to start run record: %v", err)
	}

	ctx := &BuildContext{
		ctx:       context.Background(),
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		buildDB:   buildDB,
		runID:     runID,
		queue:     make(chan *pkg.Package, 100),
		startTime: time.Now(),
		envFactory: func() (environment.Environment, error) {
			return environment.New("bsd")
		},
	}

	// Create cleanup function. Workers tear down their own sandbox after
	// every port (see workerLoop), so in the steady state this only catches
	// a worker still mid-build when the caller cleans up early (e.g. on a
	// signal).
	cleanup := func() {
		fmt.Fprintf(os.Stderr, "Cleaning up worker mounts...\n")
		for i, worker := range ctx.workers {
			if worker == nil {
				continue
			}
			worker.mu.Lock()
			env := worker.Env
			worker.mu.Unlock()
			if env != nil {
				if err := env.Cleanup(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to unmount worker %d: %v\n", i, err)
				}
			}
		}
	}

	// Partition buildOrder into packages already settled (skipped/ignored,
	// counted now) and packages that still need a worker, handing the
	// latter to a scheduler that tracks dependency readiness itself so
	// workers never have to poll for it.
	toBuild := make([]*pkg.Package, 0, len(buildOrder))
	for _, p := range buildOrder {
		if ctx.registry.HasAnyFlags(p, pkg.PkgFSuccess|pkg.PkgFNoBuildIgnore|pkg.PkgFIgnored) {
			if ctx.registry.HasFlags(p, pkg.PkgFSuccess) {
				ctx.stats.SkippedPre++
			} else if ctx.registry.HasFlags(p, pkg.PkgFIgnored) {
				ctx.stats.Ignored++
			}
			continue
		}

		portPath := filepath.Join(cfg.DPortsPath, p.Category, p.Name)
		currentCRC, err := builddb.ComputePortCRC(portPath)
		if err != nil {
			logger.Error("Failed to compute CRC for %s: %v", p.PortDir, err)
			ctx.stats.Total++
			toBuild = append(toBuild, p)
			continue
		}

		needsBuild, err := ctx.buildDB.NeedsBuild(p.PortDir, currentCRC)
		if err != nil {
			logger.Error("Failed to check NeedsBuild for %s: %v", p.PortDir, err)
			ctx.stats.Total++
			toBuild = append(toBuild, p)
			continue
		}
		if !needsBuild {
			ctx.registry.AddFlags(p, pkg.PkgFSuccess)
			ctx.stats.SkippedPre++
			logger.Success(fmt.Sprintf("%s (CRC match, skipped)", p.PortDir))
			continue
		}

		ctx.stats.Total++
		toBuild = append(toBuild, p)
	}

	fmt.Printf("\nStarting build: %d packages (%d already built, %d ignored)\n",
		ctx.stats.Total, ctx.stats.SkippedPre, ctx.stats.Ignored)

	sched, err := scheduler.NewScheduler(toBuild, logger)
	if err != nil {
		cleanup()
		return nil, cleanup, fmt.Errorf("scheduling build order: %w", err)
	}
	ctx.sched = sched

	// Create workers
	numWorkers := cfg.MaxWorkers
	if cfg.SlowStart > 0 && cfg.SlowStart < numWorkers {
		numWorkers = cfg.SlowStart
	}

	// Worker slots are created here, but the sandbox beneath a slot is
	// mounted and torn down per port inside workerLoop (see mountWorkerEnv/
	// unmountWorkerEnv) - it is not provisioned at campaign start.
	ctx.workers = make([]*Worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		ctx.workers[i] = &Worker{
			ID:     i,
			Status: "idle",
		}

		ctx.wg.Add(1)
		go ctx.workerLoop(ctx.workers[i])
	}
	ctx.activeWorkers = int32(numWorkers)

	// Dispatch packages to workers as the scheduler reports them ready;
	// dependency gating happens inside sched.Acquire, not by polling here.
	go func() {
		for {
			p, ok := ctx.sched.Acquire()
			if !ok {
				break
			}
			ctx.queue <- p
		}
		close(ctx.queue)
	}()

	// Wait for all workers to finish
	ctx.wg.Wait()

	// Calculate duration
	ctx.stats.Duration = time.Since(ctx.startTime)

	runStats := builddb.RunStats{
		Total:   ctx.stats.Total,
		Success: ctx.stats.Success,
		Failed:  ctx.stats.Failed,
		Skipped: ctx.stats.Skipped,
		Ignored: ctx.stats.Ignored,
	}
	if err := buildDB.FinishRun(runID, runStats, time.Now(), false); err != nil {
		logger.Error("Failed to finish run record: %v", err)
	}

	// Don't call cleanup here - let the caller do it
	// This allows proper cleanup on signals
	return &ctx.stats, cleanup, nil
}

// mountWorkerEnv provisions a fresh sandbox for worker's next port: a new
// Environment is created and Setup, which mounts the full chroot (including
// re-materializing the Template) from scratch. This is the Idle->Mounting
// transition and runs once per dispatched port, never once per campaign.
//
// With no envFactory configured, worker.Env is assumed to already be set
// (test harnesses wiring in a mock) and is used as-is with no mount/unmount
// lifecycle around it.
func (ctx *BuildContext) mountWorkerEnv(worker *Worker) error {
	if ctx.envFactory == nil {
		return nil
	}

	env, err := ctx.envFactory()
	if err != nil {
		return fmt.Errorf("create environment: %w", err)
	}
	if err := env.Setup(worker.ID, ctx.cfg, ctx.logger); err != nil {
		return fmt.Errorf("setup environment: %w", err)
	}
	worker.mu.Lock()
	worker.Env = env
	worker.mu.Unlock()
	return nil
}

// unmountWorkerEnv tears down worker's sandbox (the Unmounting transition)
// and clears Env so a stale sandbox can never leak into the next port. A
// no-op when mountWorkerEnv never provisioned one (envFactory nil).
func (ctx *BuildContext) unmountWorkerEnv(worker *Worker) {
	if ctx.envFactory == nil {
		return
	}

	worker.mu.Lock()
	env := worker.Env
	worker.Env = nil
	worker.mu.Unlock()

	if env == nil {
		return
	}
	if err := env.Cleanup(); err != nil {
		ctx.logger.Warn("Worker %d: sandbox cleanup failed: %v", worker.ID, err)
	}
}

// workerLoop is the main loop for a build worker. Each dispatched port
// drives the worker through Idle->Mounting->Building->Reaping->Unmounting
// and back to Idle; a mount failure takes the slot to Failed and retires it
// for the rest of the campaign (SlotMountError), without aborting the other
// workers still running.
func (ctx *BuildContext) workerLoop(worker *Worker) {
	defer ctx.wg.Done()

	for {
		// Checked before the select so a cancelled context wins over a
		// still-non-empty queue (select picks at random among ready cases).
		if ctx.ctx.Err() != nil {
			return
		}

		var p *pkg.Package
		select {
		case <-ctx.ctx.Done():
			return
		case queued, ok := <-ctx.queue:
			if !ok {
				return
			}
			p = queued
		}

		worker.mu.Lock()
		worker.Current = p
		worker.Status = "mounting"
		worker.StartTime = time.Now()
		worker.mu.Unlock()

		if err := ctx.mountWorkerEnv(worker); err != nil {
			ctx.logger.Error("Worker %d: sandbox mount failed for %s: %v", worker.ID, p.PortDir, err)

			worker.mu.Lock()
			worker.Status = "failed"
			worker.Current = nil
			worker.mu.Unlock()

			ctx.registry.AddFlags(p, pkg.PkgFFailed)
			ctx.registry.ClearFlags(p, pkg.PkgFRunning)
			ctx.logger.Failed(p.PortDir, "mount")

			ctx.statsMu.Lock()
			ctx.stats.Failed++
			ctx.statsMu.Unlock()

			ctx.sched.Complete(p, false)
			ctx.drainSkipped()

			// SlotMountError: this slot is retired for the rest of the
			// campaign. The campaign keeps going with whatever slots
			// remain; only abort once every slot has failed.
			if atomic.AddInt32(&ctx.activeWorkers, -1) == 0 {
				ctx.logger.Error("all worker slots failed; stopping campaign")
				ctx.sched.Stop()
			}
			return
		}

		worker.mu.Lock()
		worker.Status = "building"
		worker.mu.Unlock()

		ctx.registry.AddFlags(p, pkg.PkgFRunning)
		success := ctx.buildPackage(worker, p)

		worker.mu.Lock()
		worker.Status = "reaping"
		worker.mu.Unlock()

		ctx.statsMu.Lock()
		if success {
			ctx.stats.Success++
			ctx.registry.AddFlags(p, pkg.PkgFSuccess)
			ctx.registry.ClearFlags(p, pkg.PkgFRunning)
			ctx.logger.Success(p.PortDir)
		} else {
			ctx.stats.Failed++
			ctx.registry.AddFlags(p, pkg.PkgFFailed)
			ctx.registry.ClearFlags(p, pkg.PkgFRunning)
			ctx.logger.Failed(p.PortDir, ctx.registry.GetLastPhase(p))
		}
		ctx.statsMu.Unlock()

		if !success && !ctx.cfg.KeepGoing && !ctx.sched.Stopped() {
			ctx.logger.Info("stopping after failure of %s (keep-going disabled); letting in-flight builds finish", p.PortDir)
			ctx.sched.Stop()
		}

		ctx.sched.Complete(p, success)
		ctx.drainSkipped()

		worker.mu.Lock()
		worker.Status = "unmounting"
		worker.mu.Unlock()

		if err := cleanupWorkDir(worker, p); err != nil {
			ctx.logger.Warn("Worker %d: work dir cleanup failed for %s: %v", worker.ID, p.PortDir, err)
		}
		ctx.unmountWorkerEnv(worker)

		worker.mu.Lock()
		worker.Current = nil
		worker.Status = "idle"
		worker.mu.Unlock()

		// Print progress
		ctx.printProgress()
	}
}

// drainSkipped records every package the scheduler skipped (a dependency
// failed) since the last call.
func (ctx *BuildContext) drainSkipped() {
	for _, skipped := range ctx.sched.DrainSkipped() {
		ctx.registry.AddFlags(skipped, pkg.PkgFSkipped)
		ctx.statsMu.Lock()
		ctx.stats.Skipped++
		ctx.statsMu.Unlock()
		ctx.logger.Skipped(skipped.PortDir)
	}
}

// buildPackage builds a single package with full lifecycle tracking.
//
// Lifecycle:
//  1. Generate build UUID
//  2. Create build record (status="running")
//  3. Execute all build phases sequentially
//  4. Update record status to "success" or "failed"
//  5. On success: update CRC and package index
//
// Database operations are fail-safe - errors are logged but don't fail the build.
func (ctx *BuildContext) buildPackage(worker *Worker, p *pkg.Package) bool {
	pkgLogger := log.NewPackageLogger(ctx.cfg, p.PortDir)
	defer pkgLogger.Close()

	pkgLogger.WriteHeader()

	// Generate UUID for this build attempt
	p.BuildUUID = uuid.New().String()

	startTime := time.Now()

	// Create initial build record with status "running"
	buildRecord := &builddb.BuildRecord{
		UUID:      p.BuildUUID,
		PortDir:   p.PortDir,
		Version:   p.Version,
		Status:    "running",
		StartTime: startTime,
	}
	if err := ctx.buildDB.SaveRecord(buildRecord); err != nil {
		// Log warning but don't fail build (DB operations are non-fatal)
		fmt.Fprintf(os.Stderr, "Warning: Failed to save build record for %s: %v\n", p.PortDir, err)
	}

	// Execute all build phases
	phases := []string{
		"install-pkgs",
		"check-sanity",
		"fetch-depends",
		"fetch",
		"checksum",
		"extract-depends",
		"extract",
		"patch-depends",
		"patch",
		"build-depends",
		"lib-depends",
		"configure",
		"build",
		"run-depends",
		"stage",
		"check-plist",
		"package",
	}

	for _, phase := range phases {
		ctx.registry.SetLastPhase(p, phase)
		pkgLogger.WritePhase(phase)

		if err := executePhase(ctx.ctx, worker, p, phase, ctx.cfg, ctx.registry, pkgLogger); err != nil {
			duration := time.Since(startTime)
			pkgLogger.WriteFailure(duration, fmt.Sprintf("Phase %s failed: %v", phase, err))

			// Update build record status to failed
			if err := ctx.buildDB.UpdateRecordStatus(p.BuildUUID, "failed", time.Now()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to update build record for %s: %v\n", p.PortDir, err)
			}
			ctx.recordRunOutcome(worker, p, builddb.RunStatusFailed, startTime, phase)

			return false
		}
	}

	// Building->Reaping only resolves to Success once the package file is
	// actually present; a zero exit code from the package phase alone is
	// not proof, since the core must not assume a .pkg file exists.
	if err := extractPackage(worker, p, ctx.cfg); err != nil {
		duration := time.Since(startTime)
		pkgLogger.WriteFailure(duration, fmt.Sprintf("package verification failed: %v", err))

		if err := ctx.buildDB.UpdateRecordStatus(p.BuildUUID, "failed", time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to update build record for %s: %v\n", p.PortDir, err)
		}
		ctx.recordRunOutcome(worker, p, builddb.RunStatusFailed, startTime, "package")

		return false
	}

	duration := time.Since(startTime)
	pkgLogger.WriteSuccess(duration)

	// Update build record status to success
	if err := ctx.buildDB.UpdateRecordStatus(p.BuildUUID, "success", time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to update build record for %s: %v\n", p.PortDir, err)
	}

	// Update CRC database after successful build
	portPath := filepath.Join(ctx.cfg.DPortsPath, p.Category, p.Name)
	crc, err := builddb.ComputePortCRC(portPath)
	if err != nil {
		// Log warning but don't fail the build (CRC update is non-fatal)
		fmt.Fprintf(os.Stderr, "Warning: Failed to compute CRC for %s: %v\n", p.PortDir, err)
	} else {
		if err := ctx.buildDB.UpdateCRC(p.PortDir, crc); err != nil {
			// Log warning but don't fail the build (CRC update is non-fatal)
			fmt.Fprintf(os.Stderr, "Warning: Failed to update CRC for %s: %v\n", p.PortDir, err)
		}
	}

	// Update package index to point to this successful build
	if err := ctx.buildDB.UpdatePackageIndex(p.PortDir, p.Version, p.BuildUUID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to update package index for %s: %v\n", p.PortDir, err)
	}

	ctx.recordRunOutcome(worker, p, builddb.RunStatusSuccess, startTime, "")

	return true
}

// recordRunOutcome appends this package's result to the current run's
// history in the build database. Failures here are logged, not fatal.
func (ctx *BuildContext) recordRunOutcome(worker *Worker, p *pkg.Package, status string, startTime time.Time, lastPhase string) {
	rec := &builddb.RunPackageRecord{
		PortDir:   p.PortDir,
		Version:   p.Version,
		Status:    status,
		StartTime: startTime,
		EndTime:   time.Now(),
		WorkerID:  worker.ID,
		LastPhase: lastPhase,
	}
	if err := ctx.buildDB.PutRunPackage(ctx.runID, rec); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to record run outcome for %s: %v\n", p.PortDir, err)
	}
}


// printProgress prints current build progress
func (ctx *BuildContext) printProgress() {
	ctx.statsMu.Lock()
	defer ctx.statsMu.Unlock()

	elapsed := time.Since(ctx.startTime)
	done := ctx.stats.Success + ctx.stats.Failed

	fmt.Printf("\r[%s] Progress: %d/%d (S:%d F:%d) %s elapsed",
		time.Now().Format("15:04:05"),
		done, ctx.stats.Total,
		ctx.stats.Success, ctx.stats.Failed,
		formatDuration(elapsed))
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
