package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"
)

// Config holds all dsynth configuration.
type Config struct {
	// Paths
	ConfigPath     string
	DPortsPath     string
	RepositoryPath string
	BuildBase      string
	DistFilesPath  string
	OptionsPath    string
	PackagesPath   string
	LogsPath       string
	SystemPath     string
	CCachePath     string

	// Build settings
	MaxWorkers   int
	MaxJobs      int
	SlowStart    int
	NumaMask     string
	UseSSCCBase  bool
	UseUsrSrc    bool
	UseCCache    bool
	UseTmpfs     bool
	UseVKernel   bool
	UsePKGDepend bool

	// Sizes
	TmpfsWorkSize      string
	TmpfsLocalbaseSize string
	TmpfsUsrLocalSize  string

	// Behavior
	Debug      bool
	Force      bool
	YesAll     bool
	DevMode    bool
	CheckPlist bool
	DisableUI  bool
	// KeepGoing, when true (the default), lets independent parts of the
	// build graph continue after a failure; only the failed port's
	// dependents are skipped. When false, the first failure stops the
	// scheduler from dispatching anything else not already in flight.
	KeepGoing bool

	// KillGracePeriod holds a SIGTERM-to-SIGKILL grace period for build
	// children (default 30s). No code reads it: a cancelled Execute kills
	// the command at once via exec.CommandContext.
	KillGracePeriod time.Duration

	// Migration controls the one-time upgrade path from the legacy
	// flat-file CRC store to the bbolt-backed builddb.
	Migration struct {
		AutoMigrate  bool
		BackupLegacy bool
	}

	// Database locates the bbolt build-attempt/CRC database.
	Database struct {
		Path       string
		AutoVacuum bool
	}

	// Profile
	Profile string
}

// globalSectionNames lists the section-name spellings LoadConfig accepts
// for the profile-selection / shared-defaults section, checked in order.
var globalSectionNames = []string{"Global Configuration", "global configuration", "Global"}

var (
	globalConfig *Config
)

// GetConfig returns the process-wide active configuration set by
// SetConfig, or nil if none has been set yet.
func GetConfig() *Config {
	return globalConfig
}

// SetConfig installs cfg as the process-wide active configuration.
func SetConfig(cfg *Config) {
	globalConfig = cfg
}

func defaultMaxWorkers() int {
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	if n < 1 {
		n = 1
	}
	return n
}

// LoadConfig loads configuration from configDir/dsynth.ini, falling back
// to built-in defaults for anything the file doesn't set.
//
// Section resolution: a "Global Configuration" section (also accepted as
// "global configuration" or "Global") supplies values shared across
// profiles and, via profile_selected, the default profile when profile
// is "". A profile section's values take precedence over the global
// section's for any key both define.
func LoadConfig(configDir string, profile string) (*Config, error) {
	cfg := &Config{
		MaxWorkers:         defaultMaxWorkers(),
		MaxJobs:            1,
		SlowStart:          0,
		Profile:            profile,
		SystemPath:         "/",
		UseUsrSrc:          false,
		UseCCache:          false,
		UseTmpfs:           true,
		TmpfsWorkSize:      "64g",
		TmpfsLocalbaseSize: "16g",
		TmpfsUsrLocalSize:  "16g",
		BuildBase:          "/build/synth",
		KillGracePeriod:    30 * time.Second,
		KeepGoing:          true,
	}

	if configDir == "" {
		configDir = defaultConfigDir()
	}
	cfg.ConfigPath = configDir

	configFile := filepath.Join(configDir, "dsynth.ini")
	if _, err := os.Stat(configFile); err == nil {
		iniFile, err := ini.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configFile, err)
		}

		global := findGlobalSection(iniFile)

		values := make(map[string]string)
		if global != nil {
			collectKeys(global, values)
		}

		if cfg.Profile == "" && global != nil {
			cfg.Profile = global.Key("profile_selected").String()
		}

		if cfg.Profile != "" && iniFile.HasSection(cfg.Profile) {
			collectKeys(iniFile.Section(cfg.Profile), values)
		}

		cfg.applyValues(values)
	}

	cfg.applyDerivedDefaults()

	return cfg, nil
}

func defaultConfigDir() string {
	if _, err := os.Stat("/etc/dsynth"); err == nil {
		return "/etc/dsynth"
	}
	if _, err := os.Stat("/usr/local/etc/dsynth"); err == nil {
		return "/usr/local/etc/dsynth"
	}
	return "/etc/dsynth"
}

func findGlobalSection(f *ini.File) *ini.Section {
	for _, name := range globalSectionNames {
		if f.HasSection(name) {
			return f.Section(name)
		}
	}
	return nil
}

func collectKeys(sec *ini.Section, into map[string]string) {
	for _, key := range sec.Keys() {
		into[key.Name()] = key.String()
	}
}

// applyValues assigns recognized keys onto cfg. Keys are normalized
// (lowercased, underscores/spaces stripped) so "Directory_buildbase",
// "directory buildbase" and "DirectoryBuildBase" are all equivalent,
// matching the profile-file convention dsynth.ini has always used.
func (cfg *Config) applyValues(values map[string]string) {
	for rawKey, value := range values {
		key := normalizeKey(rawKey)

		switch key {
		case "numberofbuilders", "builders", "workers":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.MaxWorkers = n
			}
		case "maxjobsperbuilder", "maxjobs", "jobs":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.MaxJobs = n
			}
		case "directorypackages", "packages":
			cfg.PackagesPath = value
		case "directoryrepository", "repository":
			cfg.RepositoryPath = value
		case "directorybuildbase", "buildbase":
			cfg.BuildBase = value
		case "directoryportsdir", "portsdir", "dportsdir":
			cfg.DPortsPath = value
		case "directorydistfiles", "distfiles":
			cfg.DistFilesPath = value
		case "directoryoptions", "options":
			cfg.OptionsPath = value
		case "directorylogs", "logs":
			cfg.LogsPath = value
		case "directorysystem", "systempath":
			cfg.SystemPath = value
		case "directoryccache", "ccachedir", "ccache":
			cfg.CCachePath = value
			cfg.UseCCache = true
		case "useccache":
			cfg.UseCCache = parseBool(value)
		case "useusrsrc":
			cfg.UseUsrSrc = parseBool(value)
		case "tmpfsworkdir", "usetmpfs":
			cfg.UseTmpfs = parseBool(value)
		case "tmpfslocalbase":
			cfg.UseTmpfs = parseBool(value)
		case "usevkernel":
			cfg.UseVKernel = parseBool(value)
		case "usepkgdepend":
			cfg.UsePKGDepend = parseBool(value)
		case "tmpfsworksize":
			cfg.TmpfsWorkSize = value
		case "tmpfslocalbasesize":
			cfg.TmpfsLocalbaseSize = value
		case "tmpfsusrlocalsize":
			cfg.TmpfsUsrLocalSize = value
		case "numamask":
			cfg.NumaMask = value
		case "displaywithncurses":
			cfg.DisableUI = !parseBool(value)
		case "databasepath":
			cfg.Database.Path = value
		case "databaseautovacuum":
			cfg.Database.AutoVacuum = parseBool(value)
		case "automigrate":
			cfg.Migration.AutoMigrate = parseBool(value)
		case "backuplegacy":
			cfg.Migration.BackupLegacy = parseBool(value)
		}
	}
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")
	return key
}

// applyDerivedDefaults fills in any path that is still empty from
// BuildBase, and resolves the DPortsPath dports-vs-ports fallback.
func (cfg *Config) applyDerivedDefaults() {
	if cfg.BuildBase == "" {
		cfg.BuildBase = "/build/synth"
	}
	if cfg.DPortsPath == "" {
		cfg.DPortsPath = "/usr/dports"
		if _, err := os.Stat(cfg.DPortsPath); err != nil {
			if _, err := os.Stat("/usr/ports"); err == nil {
				cfg.DPortsPath = "/usr/ports"
			}
		}
	}
	if cfg.RepositoryPath == "" {
		cfg.RepositoryPath = cfg.BuildBase + "/packages"
	}
	if cfg.PackagesPath == "" {
		cfg.PackagesPath = cfg.RepositoryPath
	}
	if cfg.DistFilesPath == "" {
		cfg.DistFilesPath = cfg.BuildBase + "/distfiles"
	}
	if cfg.OptionsPath == "" {
		cfg.OptionsPath = cfg.BuildBase + "/options"
	}
	if cfg.LogsPath == "" {
		cfg.LogsPath = cfg.BuildBase + "/logs"
	}
	if cfg.CCachePath == "" {
		cfg.CCachePath = cfg.BuildBase + "/ccache"
	}
}

func parseBool(value string) bool {
	value = strings.ToLower(value)
	return value == "yes" || value == "true" || value == "1" || value == "on"
}

func boolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// SaveConfig writes cfg to configPath as an INI file using the
// "Global Configuration" section convention LoadConfig reads, creating
// parent directories as needed. On success cfg.ConfigPath is updated to
// configPath.
func SaveConfig(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f := ini.Empty()
	sec, err := f.NewSection("Global Configuration")
	if err != nil {
		return fmt.Errorf("create ini section: %w", err)
	}

	sec.Key("profile_selected").SetValue(cfg.Profile)
	sec.Key("Directory_buildbase").SetValue(cfg.BuildBase)
	sec.Key("Directory_portsdir").SetValue(cfg.DPortsPath)
	sec.Key("Directory_repository").SetValue(cfg.RepositoryPath)
	sec.Key("Directory_packages").SetValue(cfg.PackagesPath)
	sec.Key("Directory_distfiles").SetValue(cfg.DistFilesPath)
	sec.Key("Directory_options").SetValue(cfg.OptionsPath)
	sec.Key("Directory_logs").SetValue(cfg.LogsPath)
	sec.Key("Directory_ccache").SetValue(cfg.CCachePath)
	sec.Key("Directory_system").SetValue(cfg.SystemPath)
	sec.Key("Number_of_builders").SetValue(strconv.Itoa(cfg.MaxWorkers))
	sec.Key("Max_jobs_per_builder").SetValue(strconv.Itoa(cfg.MaxJobs))
	sec.Key("Tmpfs_workdir").SetValue(boolToYesNo(cfg.UseTmpfs))
	sec.Key("Display_with_ncurses").SetValue(boolToYesNo(!cfg.DisableUI))
	sec.Key("Database_path").SetValue(cfg.Database.Path)

	if err := f.SaveTo(configPath); err != nil {
		return fmt.Errorf("write config %s: %w", configPath, err)
	}

	cfg.ConfigPath = configPath
	return nil
}

// WriteDefaultConfig writes a fresh default configuration file for cfg
// at filename. It is a thin wrapper over SaveConfig kept for callers
// that only want to seed a new install.
func WriteDefaultConfig(filename string, cfg *Config) error {
	return SaveConfig(filename, cfg)
}

// Validate checks configuration validity, creating required directories
// that don't exist yet.
func (cfg *Config) Validate() error {
	requiredDirs := map[string]string{
		"BuildBase":      cfg.BuildBase,
		"DPortsPath":     cfg.DPortsPath,
		"RepositoryPath": cfg.RepositoryPath,
		"DistFilesPath":  cfg.DistFilesPath,
	}

	for name, path := range requiredDirs {
		if path == "" {
			return fmt.Errorf("%s is not configured", name)
		}

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(path, 0755); err != nil {
					return fmt.Errorf("%s directory %s cannot be created: %w", name, path, err)
				}
			} else {
				return fmt.Errorf("%s directory %s: %w", name, path, err)
			}
		} else if !info.IsDir() {
			return fmt.Errorf("%s path %s is not a directory", name, path)
		}
	}

	if cfg.MaxWorkers < 1 {
		return fmt.Errorf("MaxWorkers must be at least 1")
	}
	if cfg.MaxWorkers > 1024 {
		return fmt.Errorf("MaxWorkers is too large (max 1024)")
	}

	return nil
}

// GetSystemInfo returns the host OS name, release, architecture, and CPU
// count via uname(2).
func GetSystemInfo() (osname, osversion, arch string, ncpus int) {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err == nil {
		osname = string(utsname.Sysname[:])
		osversion = string(utsname.Release[:])
		arch = string(utsname.Machine[:])
		osname = strings.TrimRight(osname, "\x00")
		osversion = strings.TrimRight(osversion, "\x00")
		arch = strings.TrimRight(arch, "\x00")
	}

	ncpus = runtime.NumCPU()

	return
}
