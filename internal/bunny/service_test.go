package bunny

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/happiness"
	"github.com/SlpAus/uvbunny-backend/internal/live"
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/platform/testutil"
	"github.com/SlpAus/uvbunny-backend/internal/settings"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      *Service
	settings *settings.Service
	db       *gorm.DB
	pub      *testutil.RecordingPublisher
	notifier *testutil.RecordingNotifier
	hub      *live.Hub[Overview]
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t, &Bunny{}, &settings.Config{})
	rdb, _ := testutil.NewRedis(t)
	pub := &testutil.RecordingPublisher{}
	notifier := &testutil.RecordingNotifier{}
	settingsSvc := settings.NewService(db, rdb, pub, notifier, zap.NewNop())
	svc := NewService(db, settingsSvc, pub, notifier, zap.NewNop())
	return fixture{
		svc:      svc,
		settings: settingsSvc,
		db:       db,
		pub:      pub,
		notifier: notifier,
		hub:      live.NewHub(rdb, svc.ListWithHappiness, zap.NewNop()),
	}
}

func (f fixture) setCount(t *testing.T, bunnyID string, n int) {
	t.Helper()
	require.NoError(t, f.db.Model(&Bunny{}).Where("id = ?", bunnyID).Update("event_count", n).Error)
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "u1", "   ", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Create(ctx, "u1", strings.Repeat("兔", 41), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Create(ctx, "u1", "Bun", "purple")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	b, err := f.svc.Create(ctx, "u1", strings.Repeat("兔", 40), "pink")
	require.NoError(t, err)
	assert.Equal(t, "pink", b.ColorClass)
	assert.Zero(t, b.EventCount)

	b, err = f.svc.Create(ctx, "u1", "  Thumper  ", "")
	require.NoError(t, err)
	assert.Equal(t, "Thumper", b.Name)
	assert.True(t, IsValidColor(b.ColorClass))
	assert.Len(t, b.ID, 36)

	assert.Equal(t, 2, f.notifier.Count("u1"))
}

func TestGet_ScopedToUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, "u1", "Bun", "gray")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "u2", b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := f.svc.Get(ctx, "u1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bun", got.Name)
}

func TestListWithHappiness_DefaultScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, "u1", "Bun", "cream")
	require.NoError(t, err)
	f.setCount(t, b.ID, 8)

	overview, err := f.svc.ListWithHappiness(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, overview.Bunnies, 1)
	assert.Equal(t, happiness.Result{Happiness: 24, ProgressPercent: 8, Mood: happiness.MoodSad}, overview.Bunnies[0].Result)
	assert.Equal(t, 24, overview.AverageHappiness)

	empty, err := f.svc.ListWithHappiness(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Bunnies)
	assert.Zero(t, empty.AverageHappiness)
}

func TestListWithHappiness_Retroactive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, "u1", "A", "cream")
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, "u1", "B", "gray")
	require.NoError(t, err)
	f.setCount(t, a.ID, 10)
	f.setCount(t, b.ID, 20)

	before, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)

	_, err = f.settings.UpdatePointsPerCarrot(ctx, "u1", 5)
	require.NoError(t, err)

	overview, err := f.svc.ListWithHappiness(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, overview.Bunnies[0].Happiness)
	assert.Equal(t, 100, overview.Bunnies[1].Happiness)
	assert.Equal(t, 75, overview.AverageHappiness)

	// 没有任何兔子记录被改写
	after, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, "u1", "Bun", "white")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, "u2", b.ID), ErrNotFound)
	require.NoError(t, f.svc.Delete(ctx, "u1", b.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, "u1", b.ID), ErrNotFound)

	assert.Equal(t, []changefeed.Kind{changefeed.KindBunnyDeleted}, f.pub.Kinds())
	assert.Equal(t, b.ID, f.pub.Last().BunnyID)
}

func TestRefreshCachedHappiness(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, "u1", "Bun", "brown")
	require.NoError(t, err)
	f.setCount(t, b.ID, 4)

	_, err = f.settings.UpdatePointsPerCarrot(ctx, "u1", 10)
	require.NoError(t, err)
	require.NoError(t, f.svc.RefreshCachedHappiness(ctx, f.pub.Last()))

	var got Bunny
	require.NoError(t, f.db.First(&got, "id = ?", b.ID).Error)
	require.NotNil(t, got.CachedHappiness)
	assert.Equal(t, 40, *got.CachedHappiness)
	assert.NotNil(t, got.CachedAt)
	assert.Equal(t, 4, got.EventCount)
}

func newRouter(f fixture, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(user.UserIDKey, userID) })
	NewHandler(f.svc, f.hub).Register(r.Group("/api"))
	return r
}

func TestHandler_CreateAndGet(t *testing.T) {
	f := setup(t)
	r := newRouter(f, "u1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/bunnies", strings.NewReader(`{"name":"Bun","color":"purple"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/bunnies", strings.NewReader(`{"name":"Bun","color":"black"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/bunnies", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"colorClass":"black"`)
	assert.Contains(t, w.Body.String(), `"mood":"sad"`)
	assert.Contains(t, w.Body.String(), `"averageHappiness":0`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/bunnies/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/bunnies/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterValidators_ColorRule(t *testing.T) {
	require.NoError(t, RegisterValidators())
	require.NoError(t, RegisterValidators())

	assert.NoError(t, binding.Validator.ValidateStruct(CreateRequest{Name: "Bun", Color: "black"}))
	assert.NoError(t, binding.Validator.ValidateStruct(CreateRequest{Name: "Bun"}))
	assert.Error(t, binding.Validator.ValidateStruct(CreateRequest{Name: "Bun", Color: "purple"}))
}
