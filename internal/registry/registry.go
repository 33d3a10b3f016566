// Package registry is the single authority for shard naming and placement.
// Every other component resolves shard paths only through it.
package registry

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/clock"
)

// MainShard is the unified shard receiving centrally routed writes.
const MainShard = "main"

const shardExt = ".db"

// PathResolutionError means the canonical base directory cannot be created or
// accessed. It is fatal at startup.
type PathResolutionError struct {
	Path string
	Err  error
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("resolve base directory %s: %v", e.Path, e.Err)
}

func (e *PathResolutionError) Unwrap() error {
	return e.Err
}

// Config controls shard placement and legacy discovery.
type Config struct {
	// BaseDir is the canonical directory holding one file per shard.
	BaseDir string
	// LegacyRoots are historical storage locations scanned for stray files.
	LegacyRoots []string
	// Aliases extends the built-in alias table (variant -> slug).
	Aliases map[string]string
}

// IDGenerator produces migration report IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Registry resolves logical shard names to canonical paths and absorbs stray
// legacy files via non-destructive migration.
type Registry struct {
	baseDir     string
	legacyRoots []string
	aliases     map[string]string
	logger      *zap.Logger
	clock       clock.Clock
	ids         IDGenerator
}

// ShardInfo describes one canonical shard file on disk.
type ShardInfo struct {
	Name      string
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// LegacyFile is a migration candidate discovered under a legacy root.
type LegacyFile struct {
	Path      string
	Shard     string
	SizeBytes int64
	ModTime   time.Time
}

// Per-file migration outcomes.
const (
	OutcomeMigrated = "migrated"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// FileResult records the outcome of one legacy file.
type FileResult struct {
	Path    string
	Shard   string
	Outcome string
	Reason  string
}

// FileFailure is the per-file error surface of a migration batch.
type FileFailure struct {
	Path   string
	Reason string
}

// MigrationReport aggregates a migration batch. Failures never abort the
// batch; each file is attempted independently.
type MigrationReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Migrated   int
	Skipped    int
	Failed     []FileFailure
	Results    []FileResult
}

// Known variants of source names, including locale variants left behind by
// earlier collector versions. All map to one canonical slug.
var defaultAliases = map[string]string{
	"sina-finance": "sina",
	"sina_finance": "sina",
	"sinafinance":  "sina",
	"新浪财经":         "sina",
	"east-money":   "eastmoney",
	"east_money":   "eastmoney",
	"dfcf":         "eastmoney",
	"东方财富":         "eastmoney",
	"tonghuashun":  "10jqka",
	"ths":          "10jqka",
	"同花顺":          "10jqka",
}

// New builds a Registry and ensures the base directory exists. A base
// directory that cannot be created or is not a directory is a fatal
// PathResolutionError.
func New(cfg Config, logger *zap.Logger, clk clock.Clock, ids IDGenerator) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, &PathResolutionError{Path: cfg.BaseDir, Err: err}
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, &PathResolutionError{Path: base, Err: err}
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, &PathResolutionError{Path: base, Err: err}
	}
	if !info.IsDir() {
		return nil, &PathResolutionError{Path: base, Err: fmt.Errorf("not a directory")}
	}

	aliases := make(map[string]string, len(defaultAliases)+len(cfg.Aliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return &Registry{
		baseDir:     base,
		legacyRoots: append([]string(nil), cfg.LegacyRoots...),
		aliases:     aliases,
		logger:      logger.Named("registry"),
		clock:       clk,
		ids:         ids,
	}, nil
}

// BaseDir returns the canonical shard directory.
func (r *Registry) BaseDir() string {
	return r.baseDir
}

// Slug normalizes a logical shard or source name to its canonical slug.
// Equivalent variants always produce the same slug.
func (r *Registry) Slug(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if s, ok := r.aliases[n]; ok {
		return s, nil
	}
	slug := sanitizeSlug(n)
	if s, ok := r.aliases[slug]; ok {
		return s, nil
	}
	if slug == "" {
		return "", fmt.Errorf("shard name %q has no usable slug", name)
	}
	return slug, nil
}

// CanonicalPath resolves a logical name to the single authoritative file
// location. Calling it twice with equivalent names returns the same path.
func (r *Registry) CanonicalPath(name string) (string, error) {
	slug, err := r.Slug(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.baseDir, 0o750); err != nil {
		return "", &PathResolutionError{Path: r.baseDir, Err: err}
	}
	return filepath.Join(r.baseDir, slug+shardExt), nil
}

// ListShards enumerates canonical shard files, main first then names
// ascending. This is the fixed iteration order used by cross-shard reads.
func (r *Registry) ListShards() ([]ShardInfo, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	var shards []ShardInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != shardExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), shardExt)
		// Only files already at a canonical name belong to the registry. A
		// stray alias-named file here must go through migration, not be read
		// under a different slug.
		if slug, err := r.Slug(name); err != nil || slug != name {
			r.logger.Warn("ignoring non-canonical file in shard directory",
				zap.String("file", entry.Name()))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("stat shard file failed", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		shards = append(shards, ShardInfo{
			Name:      name,
			Path:      filepath.Join(r.baseDir, entry.Name()),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	sort.Slice(shards, func(i, j int) bool {
		if shards[i].Name == MainShard {
			return true
		}
		if shards[j].Name == MainShard {
			return false
		}
		return shards[i].Name < shards[j].Name
	})
	return shards, nil
}

// DiscoverLegacy scans the configured legacy roots for shard-like files that
// are not already at their canonical location, sorted by path.
func (r *Registry) DiscoverLegacy() ([]LegacyFile, error) {
	var found []LegacyFile
	for _, root := range r.legacyRoots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			r.logger.Warn("skipping unresolvable legacy root", zap.String("root", root), zap.Error(err))
			continue
		}
		if _, err := os.Stat(absRoot); err != nil {
			r.logger.Debug("legacy root not present", zap.String("root", absRoot))
			continue
		}
		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				r.logger.Warn("legacy walk error", zap.String("path", path), zap.Error(err))
				return nil
			}
			if d.IsDir() || filepath.Ext(d.Name()) != shardExt {
				return nil
			}
			name := strings.TrimSuffix(d.Name(), shardExt)
			slug, serr := r.Slug(name)
			if serr != nil {
				r.logger.Warn("legacy file has no usable shard name", zap.String("path", path))
				return nil
			}
			canonical, cerr := r.CanonicalPath(slug)
			if cerr != nil {
				return cerr
			}
			if canonical == path {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil {
				r.logger.Warn("stat legacy file failed", zap.String("path", path), zap.Error(ierr))
				return nil
			}
			found = append(found, LegacyFile{
				Path:      path,
				Shard:     slug,
				SizeBytes: info.Size(),
				ModTime:   info.ModTime(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan legacy root %s: %w", absRoot, err)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

// Migrate discovers legacy files and migrates each one independently.
func (r *Registry) Migrate(ctx context.Context) (MigrationReport, error) {
	files, err := r.DiscoverLegacy()
	if err != nil {
		return MigrationReport{}, err
	}
	return r.MigrateFiles(ctx, files)
}

// MigrateFiles copies each legacy file to its canonical location when that
// location is absent or strictly older. Legacy files are never modified or
// deleted; a per-file failure is recorded and does not abort the batch.
func (r *Registry) MigrateFiles(ctx context.Context, files []LegacyFile) (MigrationReport, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return MigrationReport{}, fmt.Errorf("migration report id: %w", err)
	}
	report := MigrationReport{ID: id, StartedAt: r.clock.Now()}

	for _, f := range files {
		if ctx.Err() != nil {
			return report, fmt.Errorf("migration interrupted: %w", ctx.Err())
		}
		result := r.migrateOne(f)
		report.Results = append(report.Results, result)
		switch result.Outcome {
		case OutcomeMigrated:
			report.Migrated++
			r.logger.Info("migrated legacy shard file",
				zap.String("from", f.Path), zap.String("shard", f.Shard))
		case OutcomeSkipped:
			report.Skipped++
			r.logger.Debug("skipped legacy shard file",
				zap.String("from", f.Path), zap.String("reason", result.Reason))
		case OutcomeFailed:
			report.Failed = append(report.Failed, FileFailure{Path: f.Path, Reason: result.Reason})
			r.logger.Warn("legacy shard migration failed",
				zap.String("from", f.Path), zap.String("reason", result.Reason))
		}
	}

	report.FinishedAt = r.clock.Now()
	return report, nil
}

func (r *Registry) migrateOne(f LegacyFile) FileResult {
	result := FileResult{Path: f.Path, Shard: f.Shard}

	canonical, err := r.CanonicalPath(f.Shard)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return result
	}

	info, err := os.Stat(canonical)
	switch {
	case err == nil:
		// Never overwrite canonical data with older or equal-age data.
		if !info.ModTime().Before(f.ModTime) {
			result.Outcome = OutcomeSkipped
			result.Reason = "canonical file is newer or same age"
			return result
		}
	case !os.IsNotExist(err):
		result.Outcome = OutcomeFailed
		result.Reason = fmt.Sprintf("stat canonical: %v", err)
		return result
	}

	if err := copyPreservingModTime(f.Path, canonical, f.ModTime); err != nil {
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return result
	}
	result.Outcome = OutcomeMigrated
	return result
}

// copyPreservingModTime writes src to dst atomically (temp file plus rename in
// the destination directory) and carries over the source mod time so age
// comparisons on later runs stay stable.
func copyPreservingModTime(src, dst string, modTime time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open legacy file: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".migrate-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		cleanup()
		return fmt.Errorf("copy legacy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := os.Chtimes(tmpName, modTime, modTime); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("set temp mod time: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace canonical file: %w", err)
	}
	return nil
}

func sanitizeSlug(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
