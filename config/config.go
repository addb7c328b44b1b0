package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailsort/assort"
	"github.com/dhcgn/mailsort/keyword"
)

// Config captures the command-line options together with the routing rules
// loaded from the config file.
type Config struct {
	ConfigPath  string
	MboxPath    string
	NewDir      string
	DryRun      bool
	LogLevel    string
	LogDir      string
	MetricsFile string
	NoGit       bool
	NoClient    bool

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string

	// Root is the maildir holding INBOX and the dot-prefixed folders.
	Root          string
	Folders       []assort.FolderSpec
	Rules         assort.Rules
	ClientCommand []string
	Git           *GitOptions
}

// GitOptions are set when the maildir root is a git repository that should
// be snapshotted around each run.
type GitOptions struct {
	Pull bool
	Push bool
}

// File is the on-disk layout of config.toml.
type File struct {
	Path      string       `toml:"path"`
	Addresses []string     `toml:"addresses"`
	Quirks    QuirksFile   `toml:"quirks"`
	Flagging  FlaggingFile `toml:"flagging"`
	Folders   []FolderFile `toml:"folders"`
	Ignore    *IgnoreFile  `toml:"ignore"`
	Client    *ClientFile  `toml:"client"`
	Git       *GitFile     `toml:"git"`
}

type QuirksFile struct {
	Deduplicate []string `toml:"deduplicate"`
	Prefer      []string `toml:"prefer"`
}

type FlaggingFile struct {
	Keywords []string `toml:"keywords"`
}

type FolderFile struct {
	Name             string    `toml:"name"`
	Priority         int       `toml:"priority"`
	Keywords         []string  `toml:"keywords"`
	MarkRead         bool      `toml:"mark-read"`
	FlaggingKeywords *[]string `toml:"flagging-keywords"`
}

type IgnoreFile struct {
	Name  string   `toml:"name"`
	Lists []string `toml:"lists"`
}

type ClientFile struct {
	Command []string `toml:"command"`
}

type GitFile struct {
	Pull bool `toml:"pull"`
	Push bool `toml:"push"`
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultPath, err := DefaultPath()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", defaultPath, "Path to config.toml")
	flags.String("mbox", "", "Path to an .mbox or .mbox.gz file with new mail")
	flags.String("new-dir", "", "Maildir with new mail (alternative to --mbox)")
	flags.Bool("dry-run", false, "Plan and log every action without touching the maildir")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stdout only when empty)")
	flags.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
	flags.Bool("no-git", false, "Skip the git snapshot even when [git] is configured")
	flags.Bool("no-client", false, "Do not start the mail client after sorting")
	flags.StringArray("include-header", nil, "Regex allow-list applied to imported message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to imported message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to imported message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to imported message bodies (mutually exclusive with include flags)")

	cmd.MarkFlagsMutuallyExclusive("mbox", "new-dir")
	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config and loads the
// config file they point at.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	var err error
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"config", &cfg.ConfigPath},
		{"mbox", &cfg.MboxPath},
		{"new-dir", &cfg.NewDir},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
		{"metrics-file", &cfg.MetricsFile},
	}
	for _, f := range stringFlags {
		if *f.dst, err = flags.GetString(f.name); err != nil {
			return Config{}, err
		}
	}
	bools := []struct {
		name string
		dst  *bool
	}{
		{"dry-run", &cfg.DryRun},
		{"no-git", &cfg.NoGit},
		{"no-client", &cfg.NoClient},
	}
	for _, f := range bools {
		if *f.dst, err = flags.GetBool(f.name); err != nil {
			return Config{}, err
		}
	}
	arrays := []struct {
		name string
		dst  *[]string
	}{
		{"include-header", &cfg.IncludeHeader},
		{"include-body", &cfg.IncludeBody},
		{"exclude-header", &cfg.ExcludeHeader},
		{"exclude-body", &cfg.ExcludeBody},
	}
	for _, f := range arrays {
		if *f.dst, err = flags.GetStringArray(f.name); err != nil {
			return Config{}, err
		}
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	file, err := LoadFile(cfg.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.apply(file); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", cfg.ConfigPath, err)
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ConfigPath == "" {
		return errors.New("--config is required")
	}
	if cfg.MboxPath != "" && cfg.NewDir != "" {
		return errors.New("--mbox and --new-dir are mutually exclusive")
	}
	if cfg.MboxPath == "" && cfg.NewDir == "" {
		return errors.New("one of --mbox or --new-dir is required")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return errors.New("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}
	return nil
}

// LoadFile decodes the config file at path. Keys that do not belong to the
// layout are an error.
func LoadFile(path string) (File, error) {
	var file File
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return File{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return File{}, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return file, nil
}

func (cfg *Config) apply(file File) error {
	if file.Path == "" {
		return errors.New("path is required")
	}
	root, err := expandHome(file.Path)
	if err != nil {
		return err
	}
	cfg.Root = filepath.Clean(root)

	specs, err := file.FolderSpecs()
	if err != nil {
		return err
	}
	cfg.Folders = specs

	r, err := buildRules(file)
	if err != nil {
		return err
	}
	cfg.Rules = r

	if file.Client != nil && !cfg.NoClient {
		if len(file.Client.Command) == 0 || file.Client.Command[0] == "" {
			return errors.New("client.command must name a program")
		}
		cfg.ClientCommand = file.Client.Command
	}
	if file.Git != nil && !cfg.NoGit {
		cfg.Git = &GitOptions{Pull: file.Git.Pull, Push: file.Git.Push}
	}
	return nil
}

// FolderSpecs validates the configured folders and compiles their keywords.
func (file File) FolderSpecs() ([]assort.FolderSpec, error) {
	seen := make(map[string]struct{}, len(file.Folders))
	specs := make([]assort.FolderSpec, 0, len(file.Folders))
	for i, f := range file.Folders {
		if err := validateFolderName(f.Name); err != nil {
			return nil, fmt.Errorf("folders[%d]: %w", i, err)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("folders[%d]: folder %q configured twice", i, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Priority < 0 {
			return nil, fmt.Errorf("folder %s: priority must not be negative", f.Name)
		}

		keywords, err := keyword.Compile(f.Keywords)
		if err != nil {
			return nil, fmt.Errorf("folder %s: keywords: %w", f.Name, err)
		}
		spec := assort.FolderSpec{
			Name:     f.Name,
			Priority: f.Priority,
			Keywords: keywords,
			MarkRead: f.MarkRead,
		}
		if f.FlaggingKeywords != nil {
			flagging, err := keyword.Compile(*f.FlaggingKeywords)
			if err != nil {
				return nil, fmt.Errorf("folder %s: flagging-keywords: %w", f.Name, err)
			}
			spec.FlaggingKeywords = &flagging
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func validateFolderName(name string) error {
	switch {
	case name == "":
		return errors.New("folder name is required")
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("folder name %q must not start with a dot", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("folder name %q must not contain a path separator", name)
	case name == "new" || name == "cur" || name == "tmp":
		return fmt.Errorf("folder name %q collides with a maildir area", name)
	}
	return nil
}

func buildRules(file File) (assort.Rules, error) {
	flagging, err := keyword.Compile(file.Flagging.Keywords)
	if err != nil {
		return assort.Rules{}, fmt.Errorf("flagging.keywords: %w", err)
	}
	r := assort.Rules{
		Flagging:    flagging,
		Deduplicate: toSet(file.Quirks.Deduplicate),
		Prefer:      toSet(file.Quirks.Prefer),
		Addresses:   file.Addresses,
	}
	if file.Ignore != nil {
		if file.Ignore.Name == "" {
			return assort.Rules{}, errors.New("ignore.name is required")
		}
		r.Ignore = &assort.IgnoreRule{Name: file.Ignore.Name, Lists: toSet(file.Ignore.Lists)}
	}
	return r, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// DefaultPath returns config.toml below the user configuration directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mailsort", "config.toml"), nil
}
