package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/clock"
	iduuid "github.com/tidefall/newsvault/internal/id/uuid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(t.TempDir(), "shards")
	}
	r, err := New(cfg, zap.NewNop(), clock.NewSystem(), iduuid.New())
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestSlugNormalizesVariants(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{})
	cases := []struct {
		in   string
		want string
	}{
		{"sina", "sina"},
		{"Sina_Finance", "sina"},
		{" sinafinance ", "sina"},
		{"新浪财经", "sina"},
		{"dfcf", "eastmoney"},
		{"东方财富", "eastmoney"},
		{"ths", "10jqka"},
		{"同花顺", "10jqka"},
		{"main", "main"},
		{"Some Other Source!", "some-other-source"},
	}
	for _, tc := range cases {
		got, err := r.Slug(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}

	_, err := r.Slug("!!!")
	require.Error(t, err)
}

func TestSlugHonorsConfiguredAliases(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{Aliases: map[string]string{"CaiXin ": "caixin", "财新": "caixin"}})
	for _, in := range []string{"caixin", "CAIXIN", "财新"} {
		got, err := r.Slug(in)
		require.NoError(t, err)
		require.Equal(t, "caixin", got)
	}
}

func TestCanonicalPathIsStable(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{})

	first, err := r.CanonicalPath("Sina_Finance")
	require.NoError(t, err)
	second, err := r.CanonicalPath("新浪财经")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, filepath.Join(r.BaseDir(), "sina.db"), first)

	// The base directory exists after resolution.
	info, err := os.Stat(r.BaseDir())
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsUnusableBaseDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o640))

	_, err := New(Config{BaseDir: file}, zap.NewNop(), clock.NewSystem(), iduuid.New())
	var perr *PathResolutionError
	require.ErrorAs(t, err, &perr)
}

func TestListShardsOrdersMainFirst(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{})
	now := time.Now()
	for _, name := range []string{"sina", "main", "eastmoney", "10jqka"} {
		writeFile(t, filepath.Join(r.BaseDir(), name+".db"), name, now)
	}
	// Files that are not canonical shard databases are ignored.
	writeFile(t, filepath.Join(r.BaseDir(), "notes.txt"), "x", now)
	writeFile(t, filepath.Join(r.BaseDir(), "dfcf.db"), "alias-named", now)

	shards, err := r.ListShards()
	require.NoError(t, err)

	names := make([]string, 0, len(shards))
	for _, sh := range shards {
		names = append(names, sh.Name)
	}
	require.Equal(t, []string{"main", "10jqka", "eastmoney", "sina"}, names)
	for _, sh := range shards {
		require.Positive(t, sh.SizeBytes)
		require.False(t, sh.ModTime.IsZero())
	}
}

func TestDiscoverLegacySkipsCanonicalFiles(t *testing.T) {
	t.Parallel()

	legacyRoot := filepath.Join(t.TempDir(), "old")
	r := newTestRegistry(t, Config{LegacyRoots: []string{legacyRoot, filepath.Join(t.TempDir(), "missing")}})
	now := time.Now()

	writeFile(t, filepath.Join(legacyRoot, "dfcf.db"), "legacy-east", now)
	writeFile(t, filepath.Join(legacyRoot, "nested", "sina_finance.db"), "legacy-sina", now)
	writeFile(t, filepath.Join(legacyRoot, "readme.md"), "not a shard", now)
	writeFile(t, filepath.Join(r.BaseDir(), "sina.db"), "canonical", now)

	found, err := r.DiscoverLegacy()
	require.NoError(t, err)
	require.Len(t, found, 2)

	shards := map[string]string{}
	for _, f := range found {
		shards[f.Shard] = f.Path
	}
	require.Contains(t, shards, "eastmoney")
	require.Contains(t, shards, "sina")
	require.Equal(t, filepath.Join(legacyRoot, "dfcf.db"), shards["eastmoney"])
}

func TestMigrateCopiesWithoutTouchingLegacy(t *testing.T) {
	t.Parallel()

	legacyRoot := filepath.Join(t.TempDir(), "old")
	r := newTestRegistry(t, Config{LegacyRoots: []string{legacyRoot}})

	legacyTime := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	legacyPath := filepath.Join(legacyRoot, "东方财富.db")
	writeFile(t, legacyPath, "legacy-bytes", legacyTime)

	report, err := r.Migrate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, report.ID)
	require.Equal(t, 1, report.Migrated)
	require.Zero(t, report.Skipped)
	require.Empty(t, report.Failed)
	require.False(t, report.StartedAt.After(report.FinishedAt))

	// The canonical copy exists with identical bytes and mod time.
	canonical := filepath.Join(r.BaseDir(), "eastmoney.db")
	got, err := os.ReadFile(canonical)
	require.NoError(t, err)
	require.Equal(t, "legacy-bytes", string(got))
	info, err := os.Stat(canonical)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(legacyTime))

	// The legacy file is untouched.
	orig, err := os.ReadFile(legacyPath)
	require.NoError(t, err)
	require.Equal(t, "legacy-bytes", string(orig))
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	legacyRoot := filepath.Join(t.TempDir(), "old")
	r := newTestRegistry(t, Config{LegacyRoots: []string{legacyRoot}})
	writeFile(t, filepath.Join(legacyRoot, "sina.db"), "v1", time.Now().Add(-time.Hour).Truncate(time.Second))

	first, err := r.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Migrated)

	second, err := r.Migrate(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Migrated)
	require.Equal(t, 1, second.Skipped)
	require.Equal(t, OutcomeSkipped, second.Results[0].Outcome)
}

func TestMigratePrefersNewerData(t *testing.T) {
	t.Parallel()

	legacyRoot := filepath.Join(t.TempDir(), "old")
	r := newTestRegistry(t, Config{LegacyRoots: []string{legacyRoot}})

	older := time.Now().Add(-72 * time.Hour).Truncate(time.Second)
	newer := time.Now().Add(-1 * time.Hour).Truncate(time.Second)

	canonical := filepath.Join(r.BaseDir(), "sina.db")
	legacyPath := filepath.Join(legacyRoot, "sina_finance.db")

	// Canonical newer than legacy: nothing moves.
	writeFile(t, canonical, "canonical-new", newer)
	writeFile(t, legacyPath, "legacy-old", older)
	report, err := r.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	got, err := os.ReadFile(canonical)
	require.NoError(t, err)
	require.Equal(t, "canonical-new", string(got))

	// Canonical strictly older than legacy: legacy bytes win.
	writeFile(t, canonical, "canonical-old", older)
	writeFile(t, legacyPath, "legacy-new", newer)
	report, err = r.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Migrated)
	got, err = os.ReadFile(canonical)
	require.NoError(t, err)
	require.Equal(t, "legacy-new", string(got))
}

func TestMigrateRecordsPerFileFailures(t *testing.T) {
	t.Parallel()

	legacyRoot := filepath.Join(t.TempDir(), "old")
	r := newTestRegistry(t, Config{LegacyRoots: []string{legacyRoot}})
	now := time.Now().Truncate(time.Second)

	goodPath := filepath.Join(legacyRoot, "sina.db")
	writeFile(t, goodPath, "good", now)
	writeFile(t, filepath.Join(legacyRoot, "ths.db"), "gone", now)

	files, err := r.DiscoverLegacy()
	require.NoError(t, err)
	require.Len(t, files, 2)

	// One source file disappears between discovery and the copy.
	require.NoError(t, os.Remove(filepath.Join(legacyRoot, "ths.db")))

	report, err := r.MigrateFiles(context.Background(), files)
	require.NoError(t, err)
	require.Equal(t, 1, report.Migrated)
	require.Len(t, report.Failed, 1)
	require.Equal(t, filepath.Join(legacyRoot, "ths.db"), report.Failed[0].Path)
	require.NotEmpty(t, report.Failed[0].Reason)

	// The healthy file still landed.
	_, err = os.Stat(filepath.Join(r.BaseDir(), "sina.db"))
	require.NoError(t, err)
}

func TestMigrateStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	legacyRoot := filepath.Join(t.TempDir(), "old")
	r := newTestRegistry(t, Config{LegacyRoots: []string{legacyRoot}})
	writeFile(t, filepath.Join(legacyRoot, "sina.db"), "v1", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Migrate(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
