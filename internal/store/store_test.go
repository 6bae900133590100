package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aio-downloader/aiocore/internal/model"
)

func TestStore_UpdateThenLoadAll_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	record := model.New(1, model.KindHttp, "https://example.com/file.zip", model.DefaultSettings())
	record.FileName = "file.zip"
	require.NoError(t, s.Update(record, false))

	loaded, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, loaded, int64(1))
	assert.Equal(t, record.URL, loaded[1].URL)
	assert.Equal(t, record.FileName, loaded[1].FileName)
}

func TestStore_Update_WritesNetscapeCookiesOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	record := model.New(2, model.KindHttp, "https://example.com/a", model.DefaultSettings())
	record.CookieString = "session=abc"
	require.NoError(t, s.Update(record, false))

	cookiesPath := filepath.Join(dir, "2_cookies.txt")
	data, err := os.ReadFile(cookiesPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session")

	record.CookieString = "session=xyz"
	require.NoError(t, s.Update(record, false))
	data, err = os.ReadFile(cookiesPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "abc")
	assert.NotContains(t, string(data), "xyz")
}

func TestStore_Delete_RemovesModelAndCookies(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	record := model.New(3, model.KindHttp, "https://example.com/a", model.DefaultSettings())
	record.CookieString = "session=abc"
	require.NoError(t, s.Update(record, false))

	require.NoError(t, s.Delete(3, "", "", false))

	_, err = os.Stat(filepath.Join(dir, "3_download.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "3_cookies.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_LoadAll_QuarantinesCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "9_download.json"), []byte("not json"), 0o644))

	loaded, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, loaded, int64(9))

	_, statErr := os.Stat(filepath.Join(dir, "9_download.json"))
	assert.True(t, os.IsNotExist(statErr), "corrupt file should be removed")
}

func TestValidateAgainstFiles_DropsEntriesWhoseFileIsGone(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	record := model.New(5, model.KindHttp, "https://example.com/a", model.DefaultSettings())
	require.NoError(t, s.Update(record, false))

	cache := map[int64]*model.TaskRecord{5: record}

	require.NoError(t, os.Remove(filepath.Join(dir, "5_download.json")))

	s.ValidateAgainstFiles(cache)
	assert.NotContains(t, cache, int64(5))
}

func TestValidateAgainstFiles_KeepsEntriesWhoseFileStillExists(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	record := model.New(6, model.KindHttp, "https://example.com/a", model.DefaultSettings())
	require.NoError(t, s.Update(record, false))

	cache := map[int64]*model.TaskRecord{6: record}
	s.ValidateAgainstFiles(cache)
	assert.Contains(t, cache, int64(6))
}
