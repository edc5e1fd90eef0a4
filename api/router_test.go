package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"github.com/SlpAus/uvbunny-backend/internal/ledger"
	"github.com/SlpAus/uvbunny-backend/internal/platform/startup"
	"github.com/SlpAus/uvbunny-backend/internal/platform/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	t      *testing.T
	app    *startup.App
	router *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	require.NoError(t, startup.Migrate(db))
	rdb, _ := testutil.NewRedis(t)

	app, err := startup.New(testutil.Config(), db, rdb, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Dispatcher.EnsureGroup(context.Background()))
	return &harness{t: t, app: app, router: app.Router()}
}

func (h *harness) do(method, path, userID, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// drain 处理完变更流里的所有消息，相当于触发器都已经执行
func (h *harness) drain() {
	h.t.Helper()
	for i := 0; i < 20; i++ {
		n, err := h.app.Dispatcher.PollOnce(context.Background(), -1)
		require.NoError(h.t, err)
		if n == 0 {
			return
		}
	}
	h.t.Fatal("change feed did not drain")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_Probes(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)

	w = h.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/bunnies", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_CarrotsFlowThroughToHappiness(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/bunnies", "alice", `{"name":"  Fluffy  ","color":"gray"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[map[string]string](t, w)["id"]
	require.NotEmpty(t, id)

	for _, n := range []string{"5", "3"} {
		w = h.do(http.MethodPost, "/api/bunnies/"+id+"/carrots", "alice", `{"carrots":`+n+`}`)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}
	w = h.do(http.MethodPost, "/api/bunnies/"+id+"/carrots", "alice", `{"carrots":2.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	h.drain()

	w = h.do(http.MethodGet, "/api/bunnies", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	overview := decode[bunny.Overview](t, w)
	require.Len(t, overview.Bunnies, 1)
	b := overview.Bunnies[0]
	assert.Equal(t, "Fluffy", b.Name)
	assert.Equal(t, 8, b.EventCount)
	assert.Equal(t, 24, b.Happiness)
	assert.Equal(t, 8, b.ProgressPercent)
	assert.EqualValues(t, "sad", b.Mood)
	assert.Equal(t, 24, overview.AverageHappiness)

	// 修改配置后幸福值按新参数重新派生
	w = h.do(http.MethodPatch, "/api/config", "alice", `{"pointsPerCarrot":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	h.drain()
	w = h.do(http.MethodGet, "/api/bunnies/"+id, "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 40, decode[bunny.View](t, w).Happiness)

	// 其他用户看不到这只兔子
	w = h.do(http.MethodGet, "/api/bunnies/"+id, "bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/api/bunnies/"+id+"/events", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[ledger.Page](t, w)
	require.Len(t, page.Events, 2)
	assert.Equal(t, 3, page.Events[0].Carrots)
	assert.Empty(t, page.NextCursor)

	w = h.do(http.MethodDelete, "/api/bunnies/"+id+"/events/"+page.Events[0].ID, "alice", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	h.drain()
	w = h.do(http.MethodGet, "/api/bunnies/"+id, "alice", "")
	assert.Equal(t, 5, decode[bunny.View](t, w).EventCount)

	w = h.do(http.MethodDelete, "/api/bunnies/"+id, "alice", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	h.drain()

	var remaining int64
	require.NoError(t, h.app.DB.Unscoped().Model(&ledger.CarrotEvent{}).Where("bunny_id = ?", id).Count(&remaining).Error)
	assert.Zero(t, remaining)

	w = h.do(http.MethodGet, "/api/stats", "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ConfigValidation(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/config", "carol", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pointsPerCarrot":3`)

	w = h.do(http.MethodPatch, "/api/config", "carol", `{"moodSadThreshold":60,"moodAverageThreshold":40}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}
