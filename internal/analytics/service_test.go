package analytics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metadata"
	"github.com/SlpAus/uvbunny-backend/internal/platform/testutil"
	"github.com/SlpAus/uvbunny-backend/internal/settings"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	registry *user.Registry
	bunnies  *bunny.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t, &user.User{}, &settings.Config{}, &bunny.Bunny{}, &GlobalStats{}, &metadata.Metadata{})
	rdb, _ := testutil.NewRedis(t)
	pub := &testutil.RecordingPublisher{}
	notifier := &testutil.RecordingNotifier{}
	settingsSvc := settings.NewService(db, rdb, pub, notifier, zap.NewNop())
	return fixture{
		db:       db,
		registry: user.NewRegistry(db, rdb, pub, zap.NewNop()),
		bunnies:  bunny.NewService(db, settingsSvc, pub, notifier, zap.NewNop()),
	}
}

func (f fixture) addBunny(t *testing.T, userID string, count int) {
	t.Helper()
	b, err := f.bunnies.Create(context.Background(), userID, "Bun", "cream")
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&bunny.Bunny{}).Where("id = ?", b.ID).UpdateColumn("event_count", count).Error)
}

func TestRunOnce_WritesStatsPerUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		_, err := f.registry.EnsureUser(ctx, id)
		require.NoError(t, err)
	}
	f.addBunny(t, "alice", 8)
	f.addBunny(t, "alice", 2)

	s := NewSnapshotter(f.db, f.registry, f.bunnies, time.Hour, 2, zap.NewNop())
	summary, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 2, Succeeded: 2}, summary)

	alice, err := s.GetStats(ctx, "alice")
	require.NoError(t, err)
	// 默认每根胡萝卜3点：24 和 6 的平均值
	assert.Equal(t, 15, alice.AvgHappiness)
	assert.Equal(t, 2, alice.BunnyCount)

	bob, err := s.GetStats(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, bob.AvgHappiness)
	assert.Zero(t, bob.BunnyCount)

	last, err := metadata.GetTime(ctx, f.db, metadata.LastAnalyticsSnapshotKey)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	// 再次运行覆盖旧值
	f.addBunny(t, "bob", 10)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	bob, err = s.GetStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 30, bob.AvgHappiness)
}

type staticUsers []string

func (u staticUsers) ListIDs(ctx context.Context, after string, limit int) ([]string, error) {
	var out []string
	for _, id := range u {
		if id > after && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

type flakyOverviews struct {
	failFor string
}

func (f flakyOverviews) ListWithHappiness(ctx context.Context, userID string) (bunny.Overview, error) {
	if userID == f.failFor {
		return bunny.Overview{}, errors.New("boom")
	}
	return bunny.Overview{AverageHappiness: 42}, nil
}

func TestRunOnce_IsolatesFailingUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s := NewSnapshotter(f.db, staticUsers{"a", "b", "c"}, flakyOverviews{failFor: "b"}, time.Hour, 4, zap.NewNop())
	summary, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 3, Succeeded: 2, Failed: 1}, summary)

	for _, id := range []string{"a", "c"} {
		stats, err := s.GetStats(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 42, stats.AvgHappiness)
	}
	var rows int64
	require.NoError(t, f.db.Model(&GlobalStats{}).Where("user_id = ?", "b").Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestFirstDelay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := NewSnapshotter(f.db, staticUsers{}, flakyOverviews{}, time.Hour, 1, zap.NewNop())
	now := time.Now()

	assert.Zero(t, s.firstDelay(ctx, now))

	require.NoError(t, metadata.SetTime(ctx, f.db, metadata.LastAnalyticsSnapshotKey, now.Add(-20*time.Minute)))
	assert.InDelta(t, float64(40*time.Minute), float64(s.firstDelay(ctx, now)), float64(time.Second))

	require.NoError(t, metadata.SetTime(ctx, f.db, metadata.LastAnalyticsSnapshotKey, now.Add(-3*time.Hour)))
	assert.Zero(t, s.firstDelay(ctx, now))
}

func TestHandler_GetStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setup(t)
	s := NewSnapshotter(f.db, staticUsers{"alice"}, flakyOverviews{}, time.Hour, 1, zap.NewNop())
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	r := gin.New()
	rg := r.Group("/api", func(c *gin.Context) { c.Set(user.UserIDKey, "alice") })
	NewHandler(s).Register(rg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"avgHappiness":42`)
}
