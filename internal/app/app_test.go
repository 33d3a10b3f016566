// Package app_test contains unit tests for the app container.
package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tidefall/newsvault/internal/app"
	"github.com/tidefall/newsvault/internal/news"
	"github.com/tidefall/newsvault/internal/store"
	"github.com/tidefall/newsvault/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testViper builds an isolated configuration rooted in a fresh temp dir.
func testViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	config.ApplyDefaults(v)
	v.Set("storage.base_dir", t.TempDir())
	return v
}

func TestNewBuildsWorkingStack(t *testing.T) {
	t.Parallel()

	a, err := app.New(testViper(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.GetLogger())
	require.NotNil(t, a.GetHub())
	require.NotNil(t, a.GetMetricsRegistry())
	require.Equal(t, 4, a.GetConfig().Storage.PoolSize)

	res, err := a.GetEngine().SubmitRecord(context.Background(), news.Record{
		Title:   "沪指收复3400点",
		Content: "上证指数午后震荡走高,收复3400点关口。",
		URL:     "https://finance.sina.com.cn/app/1",
		Source:  "sina",
		PubTime: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, store.OutcomeAccepted, res.Outcome)
	require.Equal(t, "sina", res.Shard)
}

func TestNewAppliesStorageSettings(t *testing.T) {
	t.Parallel()

	v := testViper(t)
	v.Set("storage.duplicate_policy", "replace")
	a, err := app.New(v)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	rec := news.Record{
		Title:   "原标题",
		Content: "正文。",
		URL:     "https://finance.sina.com.cn/app/2",
		Source:  "sina",
	}
	_, err = a.GetEngine().SubmitRecord(ctx, rec)
	require.NoError(t, err)

	rec.Title = "更新后的标题"
	res, err := a.GetEngine().SubmitRecord(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, store.OutcomeAccepted, res.Outcome)

	got, err := a.GetEngine().GetRecord(ctx, rec.URL)
	require.NoError(t, err)
	require.Equal(t, "更新后的标题", got.Title)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	v := testViper(t)
	v.Set("storage.duplicate_policy", "upsert")
	_, err := app.New(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.duplicate_policy")
}

func TestNewRejectsUnknownRouting(t *testing.T) {
	t.Parallel()

	v := testViper(t)
	v.Set("storage.routing", "hash")
	_, err := app.New(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.routing")
}

func TestNewRejectsUnusableBaseDir(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	v := testViper(t)
	v.Set("storage.base_dir", filepath.Join(blocker, "vault"))
	_, err := app.New(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "initialize registry")
}

func TestCloseIsGraceful(t *testing.T) {
	t.Parallel()

	a, err := app.New(testViper(t))
	require.NoError(t, err)
	a.Close()

	_, err = a.GetEngine().SubmitRecord(context.Background(), news.Record{
		Title:   "t",
		Content: "c",
		URL:     "https://finance.sina.com.cn/app/3",
		Source:  "sina",
	})
	require.ErrorIs(t, err, store.ErrClosed)
}
