package photosync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vkphotos/pkg/config"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/retry"
	"vkphotos/pkg/store/memory"
	"vkphotos/pkg/vkapi"
)

type record = map[string]interface{}

// fakeRemote serves the three list methods from in-memory fixtures with
// offset/count paging.
type fakeRemote struct {
	mu sync.Mutex
	// albums by owner_id, in the order the API returns them.
	albums map[string][]record
	// photos by "owner_album", oldest first.
	photos map[string][]record
	// likers by "owner_item".
	likes map[string][]uint64

	calls    map[string]int
	requests map[string][]url.Values

	// failures makes the next n calls of a method fail with failCode.
	failures map[string]int
	failCode int
	// failAfter makes every call of a method after the first n fail.
	failAfter map[string]int
	// hangAfter makes every call of a method after the first n block until
	// the client gives up.
	hangAfter map[string]int

	server *httptest.Server
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{
		albums:    map[string][]record{},
		photos:    map[string][]record{},
		likes:     map[string][]uint64{},
		calls:     map[string]int{},
		requests:  map[string][]url.Values{},
		failures:  map[string]int{},
		failAfter: map[string]int{},
		hangAfter: map[string]int{},
		failCode:  vkapi.CodeTooManyRequests,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) addAlbums(owner int64, albums ...record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strconv.FormatInt(owner, 10)
	f.albums[key] = append(f.albums[key], albums...)
}

func (f *fakeRemote) addPhotos(owner int64, album uint64, photos ...record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d_%d", owner, album)
	f.photos[key] = append(f.photos[key], photos...)
}

func (f *fakeRemote) setLikes(owner int64, item uint64, ids ...uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes[fmt.Sprintf("%d_%d", owner, item)] = ids
}

func (f *fakeRemote) replacePhotos(owner int64, album uint64, photos ...record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos[fmt.Sprintf("%d_%d", owner, album)] = photos
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeRemote) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRemote) lastRequest(method string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[method]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/")
	form := r.PostForm

	f.mu.Lock()
	f.calls[method]++
	n := f.calls[method]
	f.requests[method] = append(f.requests[method], form)
	fail := false
	if f.failures[method] > 0 {
		f.failures[method]--
		fail = true
	}
	if limit, ok := f.failAfter[method]; ok && n > limit {
		fail = true
	}
	code := f.failCode
	limit, hang := f.hangAfter[method]
	hang = hang && n > limit
	f.mu.Unlock()

	if hang {
		<-r.Context().Done()
		return
	}
	if fail {
		writeJSON(w, record{"error": record{"error_code": code, "error_msg": "Too many requests per second"}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case vkapi.MethodAlbumsGet:
		items := f.albums[form.Get("owner_id")]
		if ids := form.Get("album_ids"); ids != "" {
			writeJSON(w, record{"response": record{"count": len(items), "items": pick(items, ids, "aid", "id")}})
			return
		}
		writeJSON(w, record{"response": record{"count": len(items), "items": window(items, form)}})

	case vkapi.MethodPhotosGet:
		items := f.photos[form.Get("owner_id")+"_"+form.Get("album_id")]
		if form.Get("rev") == "1" {
			reversed := make([]record, len(items))
			for i, item := range items {
				reversed[len(items)-1-i] = item
			}
			items = reversed
		}
		if ids := form.Get("photo_ids"); ids != "" {
			writeJSON(w, record{"response": record{"count": len(items), "items": pick(items, ids, "pid", "id")}})
			return
		}
		writeJSON(w, record{"response": record{"count": len(items), "items": window(items, form)}})

	case vkapi.MethodLikesGetList:
		ids := f.likes[form.Get("owner_id")+"_"+form.Get("item_id")]
		start, end := paging(form, len(ids))
		writeJSON(w, record{"response": record{"count": len(ids), "items": ids[start:end]}})

	default:
		writeJSON(w, record{"error": record{"error_code": 3, "error_msg": "Unknown method passed"}})
	}
}

func paging(form url.Values, total int) (int, int) {
	offset, _ := strconv.Atoi(form.Get("offset"))
	count, err := strconv.Atoi(form.Get("count"))
	if err != nil {
		count = total
	}
	if offset > total {
		offset = total
	}
	end := offset + count
	if end > total {
		end = total
	}
	return offset, end
}

func window(items []record, form url.Values) []record {
	start, end := paging(form, len(items))
	return items[start:end]
}

func pick(items []record, ids string, keys ...string) []record {
	want := map[string]bool{}
	for _, id := range strings.Split(ids, ",") {
		want[id] = true
	}
	var out []record
	for _, item := range items {
		for _, k := range keys {
			if v, ok := item[k]; ok && want[fmt.Sprint(v)] {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     retry.DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

func newTestEngine(t *testing.T, remote *fakeRemote, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	client := vkapi.NewClient(config.APIConfig{
		BaseURL: remote.server.URL,
		Version: "5.131",
		Timeout: 5 * time.Second,
	}, logger.NewNopLogger())

	st := memory.New()
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	opts = append([]Option{WithRetry(testRetry()), WithPageSize(100)}, opts...)
	return New(client, st, opts...), st
}

var epoch = time.Date(2012, 3, 1, 12, 0, 0, 0, time.UTC)

func albumRecord(owner int64, aid uint64, updated time.Time) record {
	return record{
		"aid":         strconv.FormatUint(aid, 10),
		"owner_id":    strconv.FormatInt(owner, 10),
		"thumb_id":    "0",
		"title":       fmt.Sprintf("Album %d", aid),
		"description": "",
		"created":     epoch.Unix(),
		"updated":     updated.Unix(),
		"size":        0,
		"privacy":     0,
	}
}

func photoRecord(owner int64, aid, pid uint64, created time.Time) record {
	return record{
		"pid":      pid,
		"aid":      aid,
		"owner_id": owner,
		"user_id":  100,
		"src":      fmt.Sprintf("https://cs.example/%d_m.jpg", pid),
		"src_big":  fmt.Sprintf("https://cs.example/%d_x.jpg", pid),
		"width":    604,
		"height":   453,
		"text":     "",
		"created":  created.Unix(),
	}
}
