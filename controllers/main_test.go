package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/habits/config"
	"github.com/cppla/habits/middleware"
	"github.com/cppla/habits/models"
	"github.com/cppla/habits/store"
	"github.com/cppla/habits/streak"
	"github.com/cppla/habits/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	config.Set(config.AppConfig{JWTSecret: "controllers-test-secret"})
	os.Exit(m.Run())
}

// memStore is an in-memory HabitStore; saveErr makes every check-in save fail.
type memStore struct {
	mu      sync.Mutex
	nextID  uint
	habits  map[uint]models.Habit
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{habits: map[uint]models.Habit{}}
}

func (m *memStore) Create(_ context.Context, h *models.Habit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h.ID = m.nextID
	h.CheckIns = nil
	h.CurrentStreak, h.LongestStreak = 0, 0
	h.CreatedAt = time.Now().UTC()
	h.UpdatedAt = h.CreatedAt
	m.habits[h.ID] = *h
	return nil
}

func (m *memStore) ListOwned(_ context.Context, owner uint) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Habit
	for _, h := range m.habits {
		if h.UserID == owner {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) FindOwned(_ context.Context, id, owner uint) (models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(id, owner)
}

func (m *memStore) findLocked(id, owner uint) (models.Habit, error) {
	h, ok := m.habits[id]
	if !ok || h.UserID != owner {
		return models.Habit{}, store.ErrHabitNotFound
	}
	return h, nil
}

func (m *memStore) UpdateFields(_ context.Context, id, owner uint, patch store.HabitPatch) (models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, err := m.findLocked(id, owner)
	if err != nil {
		return models.Habit{}, err
	}
	if patch.Name != nil {
		h.Name = *patch.Name
	}
	if patch.TargetDays != nil {
		h.TargetDays = patch.TargetDays
	}
	if patch.StartDate != nil {
		h.StartDate = *patch.StartDate
	}
	m.habits[id] = h
	return h, nil
}

func (m *memStore) DeleteOwned(_ context.Context, id, owner uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.findLocked(id, owner); err != nil {
		return err
	}
	delete(m.habits, id)
	return nil
}

func (m *memStore) RecordCheckIn(_ context.Context, id, owner uint, mutate store.MutateFunc) (models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, err := m.findLocked(id, owner)
	if err != nil {
		return models.Habit{}, err
	}
	next, err := mutate(h)
	if err != nil {
		return models.Habit{}, err
	}
	if m.saveErr != nil {
		return models.Habit{}, fmt.Errorf("%w: %w", store.ErrPersistence, m.saveErr)
	}
	m.habits[id] = next
	return next, nil
}

var fixedNow = time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)

func testEngine() streak.Engine {
	return streak.NewEngine(time.UTC).WithClock(func() time.Time { return fixedNow })
}

// memListCache is an in-memory listCache keeping JSON snapshots like Redis does.
type memListCache struct {
	mu       sync.Mutex
	versions map[uint]int64
	entries  map[string][]byte
}

func newMemListCache() *memListCache {
	return &memListCache{versions: map[uint]int64{}, entries: map[string][]byte{}}
}

func (c *memListCache) version(_ context.Context, userID uint) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID]
}

func (c *memListCache) get(_ context.Context, userID uint, version int64, out *[]models.Habit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[utils.HabitListCacheKey(userID, version)]
	return ok && json.Unmarshal(b, out) == nil
}

func (c *memListCache) set(_ context.Context, userID uint, version int64, habits []models.Habit) {
	b, err := json.Marshal(habits)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[utils.HabitListCacheKey(userID, version)] = b
}

func (c *memListCache) bump(_ context.Context, userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, utils.HabitListCacheKey(userID, c.versions[userID]))
	c.versions[userID]++
}

func newHabitRouter(s store.HabitStore) *gin.Engine {
	return routeHabits(NewHabitController(s, testEngine()))
}

func routeHabits(hc *HabitController) *gin.Engine {
	r := gin.New()
	g := r.Group("/api/v1", middleware.AuthRequired())
	g.POST("/habits", hc.CreateHabit)
	g.GET("/habits", hc.ListHabits)
	g.GET("/habits/:id", hc.GetHabit)
	g.PUT("/habits/:id", hc.UpdateHabit)
	g.DELETE("/habits/:id", hc.DeleteHabit)
	g.POST("/habits/:id/checkins", hc.CheckIn)
	return r
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "habits.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Habit{}, &models.CheckIn{}))
	return db
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	token, err := utils.GenerateToken(userID, fmt.Sprintf("user%d", userID), time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}
