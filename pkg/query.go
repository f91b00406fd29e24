package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dsynth/config"
	"dsynth/log"
)

// getPackageInfo builds a Package for category/name[@flavor] by querying
// the ports tree Makefile through the active PortsQuerier. Tests install
// a testFixtureQuerier via setTestQuerier to avoid needing a real tree.
func getPackageInfo(category, name, flavor string, cfg *config.Config) (*Package, error) {
	portDir := category + "/" + name
	if flavor != "" {
		portDir += "@" + flavor
	}

	p := &Package{
		PortDir:  portDir,
		Category: category,
		Name:     name,
		Flavor:   flavor,
	}

	portPath := filepath.Join(cfg.DPortsPath, category, name)
	if !skipPortDirCheck {
		if _, err := os.Stat(portPath); err != nil {
			p.Flags |= PkgFNotFound
			return p, &PortNotFoundError{PortSpec: portDir, Path: portPath}
		}
	}

	flags, ignoreReason, err := portsQuerier.QueryMakefile(p, portPath, cfg)
	if err != nil {
		var notFound *PortNotFoundError
		if asPortNotFound(err, &notFound) {
			p.Flags |= PkgFNotFound
			return p, err
		}
		p.Flags |= PkgFCorrupt
		return p, fmt.Errorf("query %s: %w", portDir, err)
	}

	p.Flags |= flags
	p.IgnoreReason = ignoreReason
	return p, nil
}

func asPortNotFound(err error, target **PortNotFoundError) bool {
	if pnf, ok := err.(*PortNotFoundError); ok {
		*target = pnf
		return true
	}
	return false
}

// parsePortSpec splits a port specification into category, name, and an
// optional flavor. Specs may be given as "category/name", "category/name@flavor",
// or a full path under cfg.DPortsPath such as "/usr/ports/category/name".
func parsePortSpec(spec string, cfg *config.Config) (category, name, flavor string) {
	origin := spec

	if cfg.DPortsPath != "" && strings.HasPrefix(origin, cfg.DPortsPath) {
		origin = strings.TrimPrefix(origin, cfg.DPortsPath)
		origin = strings.TrimPrefix(origin, "/")
	} else if strings.HasPrefix(origin, "/") {
		// Absolute path outside the configured tree: take the last two
		// path components as category/name.
		origin = strings.TrimPrefix(origin, "/")
		parts := strings.Split(origin, "/")
		if len(parts) > 2 {
			origin = strings.Join(parts[len(parts)-2:], "/")
		}
	}

	nameFlavor := strings.SplitN(origin, "@", 2)
	if len(nameFlavor) == 2 {
		flavor = nameFlavor[1]
	}

	parts := strings.SplitN(nameFlavor[0], "/", 2)
	if len(parts) == 2 {
		category = parts[0]
		name = parts[1]
	} else {
		name = parts[0]
	}

	return category, name, flavor
}

// ParsePortList resolves a list of port specifications ("category/name" or
// "category/name@flavor") into Package records, querying each port's
// Makefile through the active PortsQuerier and registering the results in
// both pkgRegistry and registry. It returns ErrNoValidPorts if specs is
// empty or none of the entries could be resolved.
func ParsePortList(specs []string, cfg *config.Config, registry *BuildStateRegistry, pkgRegistry *PackageRegistry, logger log.LibraryLogger) ([]*Package, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("parse port list: %w", ErrNoValidPorts)
	}

	bq := newBulkQueue(cfg, cfg.MaxWorkers)
	defer bq.Close()

	for _, spec := range specs {
		category, name, flavor := parsePortSpec(spec, cfg)
		if category == "" || name == "" {
			logger.Warn("skipping invalid port spec %q", spec)
			continue
		}
		bq.Queue(category, name, flavor, "m")
	}

	packages := make([]*Package, 0, len(specs))
	for bq.Pending() > 0 {
		p, err := bq.GetResult()
		if err != nil {
			logger.Warn("failed to parse port: %v", err)
			continue
		}

		p.Flags |= PkgFManualSel
		entered := pkgRegistry.Enter(p)
		registry.AddFlags(entered, p.Flags)
		if p.IgnoreReason != "" {
			registry.SetIgnoreReason(entered, p.IgnoreReason)
		}
		packages = append(packages, entered)
	}

	if len(packages) == 0 {
		return nil, fmt.Errorf("parse port list: no ports resolved: %w", ErrNoValidPorts)
	}

	return packages, nil
}

// Parse is an alias for ParsePortList kept for callers that prefer the
// shorter name.
func Parse(specs []string, cfg *config.Config, registry *BuildStateRegistry, pkgRegistry *PackageRegistry, logger log.LibraryLogger) ([]*Package, error) {
	return ParsePortList(specs, cfg, registry, pkgRegistry, logger)
}
