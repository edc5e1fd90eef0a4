package settings

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/platform/testutil"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      *Service
	db       *gorm.DB
	rdb      *redis.Client
	pub      *testutil.RecordingPublisher
	notifier *testutil.RecordingNotifier
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t, &Config{})
	rdb, _ := testutil.NewRedis(t)
	pub := &testutil.RecordingPublisher{}
	notifier := &testutil.RecordingNotifier{}
	return fixture{
		svc:      NewService(db, rdb, pub, notifier, zap.NewNop()),
		db:       db,
		rdb:      rdb,
		pub:      pub,
		notifier: notifier,
	}
}

func storedRows(t *testing.T, db *gorm.DB) []Config {
	t.Helper()
	var rows []Config
	require.NoError(t, db.Find(&rows).Error)
	return rows
}

func TestGet_DefaultsWhenMissing(t *testing.T) {
	f := setup(t)

	cfg, err := f.svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PointsPerCarrot)
	assert.Nil(t, cfg.MaxHappinessPoints)
	assert.Equal(t, 20, cfg.MoodSadThreshold)
	assert.Equal(t, 49, cfg.MoodAverageThreshold)
	assert.Equal(t, 300, cfg.Params().EffectiveMax())
	assert.Empty(t, storedRows(t, f.db))
}

func TestUpdatePointsPerCarrot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, bad := range []float64{11, 0, -1, 2.5, math.NaN(), math.Inf(1)} {
		_, err := f.svc.UpdatePointsPerCarrot(ctx, "u1", bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%v", bad)
	}
	assert.Empty(t, storedRows(t, f.db))
	assert.Empty(t, f.pub.Kinds())

	cfg, err := f.svc.UpdatePointsPerCarrot(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.PointsPerCarrot)
	assert.Equal(t, 20, cfg.MoodSadThreshold)

	assert.Equal(t, []changefeed.Kind{changefeed.KindConfigUpdated}, f.pub.Kinds())
	assert.Equal(t, 1, f.notifier.Count("u1"))
}

func TestUpdatePointsPerCarrot_RejectionLeavesStoreUnchanged(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.UpdatePointsPerCarrot(ctx, "u1", 4)
	require.NoError(t, err)
	before := storedRows(t, f.db)

	_, err = f.svc.UpdatePointsPerCarrot(ctx, "u1", 11)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, before, storedRows(t, f.db))

	cfg, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.PointsPerCarrot)
}

func TestUpdateMaxHappinessPoints(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, bad := range []float64{0, -5, 1.5} {
		_, err := f.svc.UpdateMaxHappinessPoints(ctx, "u1", bad)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}

	cfg, err := f.svc.UpdateMaxHappinessPoints(ctx, "u1", 50)
	require.NoError(t, err)
	require.NotNil(t, cfg.MaxHappinessPoints)
	assert.Equal(t, 50, *cfg.MaxHappinessPoints)
	assert.Equal(t, 50, cfg.Params().EffectiveMax())
}

func TestUpdateMoodThresholds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.UpdateMoodThresholds(ctx, "u1", 50, 40)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateMoodThresholds(ctx, "u1", 40, 40)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateMoodThresholds(ctx, "u1", -1, 40)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateMoodThresholds(ctx, "u1", 10, 101)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, storedRows(t, f.db))

	cfg, err := f.svc.UpdateMoodThresholds(ctx, "u1", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MoodSadThreshold)
	assert.Equal(t, 100, cfg.MoodAverageThreshold)
}

func TestUpdate_SingleThresholdCheckedAgainstStored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sad := 60.0
	_, err := f.svc.Update(ctx, "u1", Patch{MoodSadThreshold: &sad})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	sad = 30
	cfg, err := f.svc.Update(ctx, "u1", Patch{MoodSadThreshold: &sad})
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.MoodSadThreshold)
	assert.Equal(t, 49, cfg.MoodAverageThreshold)

	_, err = f.svc.Update(ctx, "u1", Patch{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdate_MergeKeepsUnrelatedFields(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.UpdateMaxHappinessPoints(ctx, "u1", 500)
	require.NoError(t, err)
	_, err = f.svc.UpdatePointsPerCarrot(ctx, "u1", 7)
	require.NoError(t, err)

	cfg, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.PointsPerCarrot)
	require.NotNil(t, cfg.MaxHappinessPoints)
	assert.Equal(t, 500, *cfg.MaxHappinessPoints)
}

func TestGet_CacheInvalidatedOnWrite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cfg, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PointsPerCarrot)

	_, err = f.svc.UpdatePointsPerCarrot(ctx, "u1", 9)
	require.NoError(t, err)

	cfg, err = f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.PointsPerCarrot)
}

func TestGet_StaleFillDoesNotOverrideUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// 读路径先读到旧行，Update 提交之后才回填缓存
	stale, err := load(f.db.WithContext(ctx), "u1")
	require.NoError(t, err)
	_, err = f.svc.UpdatePointsPerCarrot(ctx, "u1", 9)
	require.NoError(t, err)
	require.NoError(t, fillCache(ctx, f.rdb, stale))

	cfg, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.PointsPerCarrot)

	cached, err := getCached(ctx, f.rdb, "u1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 9, cached.PointsPerCarrot)
}

func TestUpdate_WritesThroughCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "u1")
	require.NoError(t, err)
	_, err = f.svc.UpdateMoodThresholds(ctx, "u1", 10, 60)
	require.NoError(t, err)

	cached, err := getCached(ctx, f.rdb, "u1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 10, cached.MoodSadThreshold)
	assert.Equal(t, 60, cached.MoodAverageThreshold)
}

func TestUpdate_ConcurrentThresholdsKeepOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sad, avg := 45.0, 30.0
	patches := []Patch{{MoodSadThreshold: &sad}, {MoodAverageThreshold: &avg}}
	errs := make([]error, len(patches))
	var wg sync.WaitGroup
	for i, p := range patches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Update(ctx, "u1", p)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrValidation)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	rows := storedRows(t, f.db)
	require.Len(t, rows, 1)
	assert.Less(t, rows[0].MoodSadThreshold, rows[0].MoodAverageThreshold)
}

func TestBootstrap_NeverClobbers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Bootstrap(ctx, "u1"))
	require.Len(t, storedRows(t, f.db), 1)

	_, err := f.svc.UpdatePointsPerCarrot(ctx, "u1", 8)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleUserCreated(ctx, changefeed.Change{Kind: changefeed.KindUserCreated, UserID: "u1"}))
	rows := storedRows(t, f.db)
	require.Len(t, rows, 1)
	assert.Equal(t, 8, rows[0].PointsPerCarrot)
}

func TestHandler_PatchConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setup(t)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(user.UserIDKey, "u1") })
	NewHandler(f.svc).Register(r.Group("/api"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/config", strings.NewReader(`{"pointsPerCarrot": 11}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/config", strings.NewReader(`{"pointsPerCarrot": 4, "moodSadThreshold": 10}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pointsPerCarrot":4`)
	assert.Contains(t, w.Body.String(), `"moodSadThreshold":10`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pointsPerCarrot":4`)
}
