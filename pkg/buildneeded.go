package pkg

import (
	"fmt"

	"dsynth/builddb"
	"dsynth/config"
	"dsynth/log"
)

// MarkPackagesNeedingBuild marks each package in packages as either
// already up-to-date (PkgFSuccess|PkgFPackaged) or needing a build, using
// builddb's content-hash CRC index as the single source of truth for "has
// this port changed since the last successful build". Replaces the
// flat-file CRC store the original patch fragments (pkg.go/crcdb.go) built
// directly into this package. Outcomes are recorded in registry rather than
// on the Package itself, so the same *Package can be checked across
// concurrent build runs without racing on its Flags field.
func MarkPackagesNeedingBuild(packages []*Package, cfg *config.Config, registry *BuildStateRegistry, db *builddb.DB, logger log.LibraryLogger) (int, error) {
	logger.Info("Checking which packages need rebuilding...")

	needBuild := 0
	total := 0

	for _, p := range packages {
		total++

		if registry.HasAnyFlags(p, PkgFNotFound|PkgFCorrupt) {
			registry.AddFlags(p, PkgFNoBuildIgnore)
			continue
		}

		if registry.HasFlags(p, PkgFMeta) {
			registry.AddFlags(p, PkgFSuccess)
			continue
		}

		crc, err := builddb.ComputePortCRC(p.PortDir)
		if err != nil {
			// Port directory missing/unreadable: treat as needing a build
			// attempt so the real error surfaces from the Worker instead
			// of being swallowed here.
			needBuild++
			continue
		}

		needs, err := db.NeedsBuild(p.PortDir, crc)
		if err != nil {
			return needBuild, fmt.Errorf("check %s: %w", p.PortDir, err)
		}

		if needs {
			needBuild++
		} else {
			registry.AddFlags(p, PkgFSuccess|PkgFPackaged)
		}

		if total%100 == 0 {
			logger.Debug("Checked %d packages...", total)
		}
	}

	logger.Info("Checked %d packages", total)
	logger.Info("%d packages need building", needBuild)
	logger.Info("%d packages are up-to-date", total-needBuild)

	return needBuild, nil
}

// UpdateCRCAfterBuild records the current CRC for a successfully built
// port so the next run's MarkPackagesNeedingBuild treats it as Done.
func UpdateCRCAfterBuild(p *Package, db *builddb.DB) error {
	crc, err := builddb.ComputePortCRC(p.PortDir)
	if err != nil {
		return fmt.Errorf("compute CRC for %s: %w", p.PortDir, err)
	}
	return db.UpdateCRC(p.PortDir, crc)
}
