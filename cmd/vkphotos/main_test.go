package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkphotos/pkg/config"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/photosync"
	"vkphotos/pkg/report"
	"vkphotos/pkg/store/memory"
	"vkphotos/pkg/ui"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 1, 2,,30 ")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 30}, ids)

	ids, err = parseIDs("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = parseIDs("1,x")
	assert.Error(t, err)
	_, err = parseIDs("0")
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	zero, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-01", "2024-03-01T00:00:00Z", "2024-03-01T03:00:00+03:00", "1709251200"} {
		got, err := parseTime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "********", maskToken("short"))
	assert.Equal(t, "vk1....7890", maskToken("vk1.a.1234567890"))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, config.StoreConfig{Driver: "memory"}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
	require.NoError(t, st.Close())

	st, err = openStore(ctx, config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "vk.db")}, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = openStore(ctx, config.StoreConfig{Driver: "postgres"}, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestAlbumsCommandWritesReport(t *testing.T) {
	var gotMethod, gotOwner, gotToken, gotOffset string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotMethod = r.URL.Path
		gotOwner = r.Form.Get("owner_id")
		gotToken = r.Form.Get("access_token")
		gotOffset = r.Form.Get("offset")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"response": map[string]interface{}{
				"count": 2,
				"items": []map[string]interface{}{
					{"id": 17071606, "owner_id": -6492, "title": "Wall", "created": 1330603200, "updated": 1330603200, "size": 3},
					{"id": 17071607, "owner_id": -6492, "title": "Events", "created": 1330603300, "updated": 1330603300, "size": 1},
				},
			},
		})
	}))
	defer server.Close()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VKPHOTOS_API_URL", server.URL)
	var out bytes.Buffer
	prev := ui.Output
	ui.Output = &out
	t.Cleanup(func() { ui.Output = prev })

	path := filepath.Join(home, "albums.json")
	rootCmd.SetArgs([]string{
		"albums", "group:6492",
		"--store", "memory",
		"--access-token", "test-token",
		"--log-level", "disabled",
		"--no-color",
		"--offset", "10",
		"-o", path,
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	assert.Equal(t, "/photos.getAlbums", gotMethod)
	assert.Equal(t, "-6492", gotOwner)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, "10", gotOffset)
	assert.Contains(t, out.String(), "Report written")

	var loaded struct {
		Command string                `json:"command"`
		Result  photosync.AlbumResult `json:"result"`
	}
	require.NoError(t, report.Load(path, &loaded))
	assert.Equal(t, "albums", loaded.Command)
	require.Len(t, loaded.Result.Albums, 2)
	assert.Equal(t, "-6492_17071606", loaded.Result.Albums[0].RemoteID)
	assert.Equal(t, 2, loaded.Result.Summary.Stored)
}
