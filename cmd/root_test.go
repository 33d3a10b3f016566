package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tidefall/newsvault/internal/app"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/registry"
	"github.com/tidefall/newsvault/internal/store"
	"github.com/tidefall/newsvault/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// trackedApp guards against double Close so the fixture can sweep up apps
// left open by commands that fail before their post-run hook fires.
type trackedApp struct {
	App
	closed atomic.Bool
}

func (ta *trackedApp) Close() {
	if ta.closed.CompareAndSwap(false, true) {
		ta.App.Close()
	}
}

// cliFixture points the command tree at a scratch vault directory. Every
// command run builds a fresh app against the same directory, the way
// successive CLI invocations share state on disk.
type cliFixture struct {
	baseDir    string
	legacyRoot string

	mu   sync.Mutex
	apps []*trackedApp
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	fx := &cliFixture{
		baseDir:    filepath.Join(t.TempDir(), "vault"),
		legacyRoot: t.TempDir(),
	}

	orig := newApp
	newApp = func() (App, error) {
		v := viper.New()
		config.ApplyDefaults(v)
		v.Set("storage.base_dir", fx.baseDir)
		v.Set("migration.legacy_roots", []string{fx.legacyRoot})
		a, err := app.New(v)
		if err != nil {
			return nil, err
		}
		ta := &trackedApp{App: a}
		fx.mu.Lock()
		fx.apps = append(fx.apps, ta)
		fx.mu.Unlock()
		return ta, nil
	}
	t.Cleanup(func() {
		newApp = orig
		fx.mu.Lock()
		defer fx.mu.Unlock()
		for _, ta := range fx.apps {
			ta.Close()
		}
	})
	return fx
}

func (fx *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return fx.runWithInput(t, "", args...)
}

func (fx *cliFixture) runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// seed stores records directly through a throwaway app instance.
func (fx *cliFixture) seed(t *testing.T, recs ...news.Record) {
	t.Helper()
	a, err := newApp()
	require.NoError(t, err)
	defer a.Close()
	for _, rec := range recs {
		_, err := a.GetEngine().SubmitRecord(context.Background(), rec)
		require.NoError(t, err)
	}
}

func cliRecord(url, source, title string) news.Record {
	return news.Record{
		Title:   title,
		Content: "盘面回顾与资金流向分析。",
		URL:     url,
		Source:  source,
		PubTime: time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC),
	}
}

func TestShardsCommandListsFootprint(t *testing.T) {
	fx := newCLIFixture(t)
	fx.seed(t,
		cliRecord("https://finance.sina.com.cn/a", "sina", "沪指收复3400点"),
		cliRecord("https://finance.eastmoney.com/b", "eastmoney", "创业板指放量上涨"),
	)

	out, err := fx.run(t, "shards")
	require.NoError(t, err)
	require.Contains(t, out, "SHARD")
	require.Contains(t, out, "sina.db")
	require.Contains(t, out, "eastmoney.db")
}

func TestIngestCommandLoadsFeedFile(t *testing.T) {
	fx := newCLIFixture(t)

	recs := []news.Record{
		cliRecord("https://finance.sina.com.cn/bond", "sina", "国债期货全线收涨"),
		cliRecord("https://finance.eastmoney.com/fund", "eastmoney", "百亿基金限购"),
	}
	var feed bytes.Buffer
	for _, rec := range recs {
		b, err := json.Marshal(rec)
		require.NoError(t, err)
		feed.Write(b)
		feed.WriteByte('\n')
	}
	feed.WriteString("{broken\n")

	path := filepath.Join(t.TempDir(), "feed.jsonl")
	require.NoError(t, os.WriteFile(path, feed.Bytes(), 0o644))

	out, err := fx.run(t, "ingest", path)
	require.NoError(t, err)
	require.Contains(t, out, "READ")
	require.Equal(t, []string{"2", "1", "2", "0", "0"}, lastRowFields(t, out))

	out, err = fx.run(t, "records", "list")
	require.NoError(t, err)
	require.Contains(t, out, "国债期货全线收涨")
	require.Contains(t, out, "showing 2 of 2")
}

func TestIngestCommandReadsStdin(t *testing.T) {
	fx := newCLIFixture(t)

	b, err := json.Marshal(cliRecord("https://finance.sina.com.cn/ipo", "sina", "科创板迎来新股"))
	require.NoError(t, err)

	out, err := fx.runWithInput(t, string(b)+"\n", "ingest", "-")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "0", "1", "0", "0"}, lastRowFields(t, out))
}

func TestRecordsListFiltersBySource(t *testing.T) {
	fx := newCLIFixture(t)
	fx.seed(t,
		cliRecord("https://finance.sina.com.cn/c", "sina", "两市缩量震荡"),
		cliRecord("https://finance.sina.com.cn/d", "sina", "北向资金净流入"),
		cliRecord("https://finance.eastmoney.com/e", "eastmoney", "券商板块异动"),
	)

	out, err := fx.run(t, "records", "list", "--source", "sina")
	require.NoError(t, err)
	require.Contains(t, out, "两市缩量震荡")
	require.Contains(t, out, "北向资金净流入")
	require.NotContains(t, out, "券商板块异动")
	require.Contains(t, out, "showing 2 of 2")
}

func TestRecordsListRejectsBadTimeFlag(t *testing.T) {
	fx := newCLIFixture(t)

	_, err := fx.run(t, "records", "list", "--since", "yesterday")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--since")
}

func TestRecordsGetPrintsDetail(t *testing.T) {
	fx := newCLIFixture(t)
	rec := cliRecord("https://finance.sina.com.cn/f", "sina", "央行开展逆回购操作")
	rec.Keywords = []string{"央行", "流动性"}
	fx.seed(t, rec)

	out, err := fx.run(t, "records", "get", rec.URL)
	require.NoError(t, err)
	require.Contains(t, out, "title:     央行开展逆回购操作")
	require.Contains(t, out, "keywords:  央行, 流动性")

	out, err = fx.run(t, "records", "get", rec.URL, "--json")
	require.NoError(t, err)
	var decoded news.Record
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, rec.URL, decoded.URL)
	require.Equal(t, rec.Title, decoded.Title)
}

func TestRecordsGetMissingRecordFails(t *testing.T) {
	fx := newCLIFixture(t)

	_, err := fx.run(t, "records", "get", "https://finance.sina.com.cn/none")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateCommandAbsorbsLegacyShard(t *testing.T) {
	fx := newCLIFixture(t)
	legacyURL := "https://finance.sina.com.cn/legacy"
	seedLegacyShard(t, fx.legacyRoot, legacyURL, "sina")

	out, err := fx.run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "sina")
	require.Contains(t, out, "migrated 1, skipped 0, failed 0")

	out, err = fx.run(t, "records", "get", legacyURL)
	require.NoError(t, err)
	require.Contains(t, out, legacyURL)
}

func TestMigrateCommandWithNothingToDo(t *testing.T) {
	fx := newCLIFixture(t)

	out, err := fx.run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "no legacy shard files found")
}

func TestReportCommandPrintsAuditSummary(t *testing.T) {
	fx := newCLIFixture(t)
	sharedURL := "https://stock.10jqka.com.cn/shared"
	fx.seed(t,
		cliRecord(sharedURL, "sina", "沪深两市指数低开高走"),
		cliRecord(sharedURL, "eastmoney", "沪深两市指数低开高走"),
		cliRecord("https://finance.sina.com.cn/rewrite", "sina", "沪深两市指数低开高走!"),
	)

	out, err := fx.run(t, "report", "--near-dups")
	require.NoError(t, err)
	require.Contains(t, out, "rows 3, unique urls 2")
	require.Contains(t, out, "cross-shard duplicates (1):")
	// The shared story counts once in the merged scan, so one pair remains.
	require.Contains(t, out, "near-duplicate titles at threshold 0.90: 1")
}

func TestRootFailsOnMissingConfigFile(t *testing.T) {
	fx := newCLIFixture(t)
	// An explicit config file sticks to the shared viper instance, so scrub
	// it once the test is done.
	t.Cleanup(viper.Reset)

	_, err := fx.run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "shards")
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

// lastRowFields splits the final output line into whitespace-separated
// cells, ignoring the table's alignment padding.
func lastRowFields(t *testing.T, out string) []string {
	t.Helper()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.NotEmpty(t, lines)
	return strings.Fields(lines[len(lines)-1])
}

// seedLegacyShard writes a real shard file under root by running a
// throwaway store against it.
func seedLegacyShard(t *testing.T, root, url, source string) {
	t.Helper()
	reg, err := registry.New(registry.Config{BaseDir: root}, nil, nil, nil)
	require.NoError(t, err)
	st, err := store.New(store.Config{}, reg, nil, nil)
	require.NoError(t, err)
	_, err = st.Save(context.Background(), cliRecord(url, source, "遗留批次的行情稿"), store.SkipIfExists)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
