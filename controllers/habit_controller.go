package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habits/config"
	"github.com/cppla/habits/metrics"
	"github.com/cppla/habits/middleware"
	"github.com/cppla/habits/models"
	"github.com/cppla/habits/store"
	"github.com/cppla/habits/streak"
	"github.com/cppla/habits/utils"
)

var errInvalidDate = errors.New("date must be YYYY-MM-DD or RFC3339")

// HabitController serves habit CRUD and check-ins for the authenticated user.
type HabitController struct {
	store  store.HabitStore
	engine streak.Engine
	lists  listCache
}

// NewHabitController creates a HabitController over the given store.
func NewHabitController(s store.HabitStore, engine streak.Engine) *HabitController {
	return &HabitController{store: s, engine: engine, lists: redisListCache{ttl: config.Get().CacheTTL()}}
}

// listCache stores each user's habit list under a version that every write bumps.
// A list read before a bump is filed under the old version and never served again.
type listCache interface {
	version(ctx context.Context, userID uint) int64
	get(ctx context.Context, userID uint, version int64, out *[]models.Habit) bool
	set(ctx context.Context, userID uint, version int64, habits []models.Habit)
	bump(ctx context.Context, userID uint)
}

type redisListCache struct {
	ttl time.Duration
}

func (c redisListCache) version(ctx context.Context, userID uint) int64 {
	return utils.CacheGetInt(ctx, utils.HabitListVersionKey(userID))
}

func (c redisListCache) get(ctx context.Context, userID uint, version int64, out *[]models.Habit) bool {
	return utils.CacheGetJSON(ctx, utils.HabitListCacheKey(userID, version), out)
}

func (c redisListCache) set(ctx context.Context, userID uint, version int64, habits []models.Habit) {
	utils.CacheSetJSON(ctx, utils.HabitListCacheKey(userID, version), habits, c.ttl)
}

func (c redisListCache) bump(ctx context.Context, userID uint) {
	if next, ok := utils.CacheIncr(ctx, utils.HabitListVersionKey(userID)); ok {
		utils.CacheDelete(ctx, utils.HabitListCacheKey(userID, next-1))
	}
}

type habitRequest struct {
	Name       string   `json:"name" binding:"required,max=255"`
	TargetDays []string `json:"targetDays" binding:"required"`
	StartDate  string   `json:"startDate"`
}

type habitUpdateRequest struct {
	Name       *string   `json:"name" binding:"omitempty,max=255"`
	TargetDays *[]string `json:"targetDays"`
	StartDate  *string   `json:"startDate"`
}

type checkInRequest struct {
	Status string `json:"status"`
	Date   string `json:"date"`
}

// CreateHabit adds a habit owned by the caller. Streaks always start at zero.
func (h *HabitController) CreateHabit(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req habitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid request payload")
		return
	}

	name := utils.SanitizeText(req.Name)
	if name == "" {
		utils.Error(ctx, http.StatusBadRequest, 40061, "name cannot be empty")
		return
	}
	days, err := models.ParseWeekdays(req.TargetDays)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40062, err.Error())
		return
	}
	start := h.engine.Now()
	if strings.TrimSpace(req.StartDate) != "" {
		if start, err = parseDate(req.StartDate, h.engine.Location()); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40064, err.Error())
			return
		}
	}

	habit := models.Habit{
		UserID:     userID,
		Name:       name,
		TargetDays: days,
		StartDate:  start.UTC(),
	}
	if err := h.store.Create(ctx.Request.Context(), &habit); err != nil {
		utils.Sugar.Errorw("create habit failed", "user_id", userID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to create habit")
		return
	}

	h.invalidate(ctx, userID)
	utils.Created(ctx, present(habit))
}

// ListHabits returns the caller's habits, served from Redis when cached.
func (h *HabitController) ListHabits(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	reqCtx := ctx.Request.Context()
	version := h.lists.version(reqCtx, userID)
	var cached []models.Habit
	if h.lists.get(reqCtx, userID, version, &cached) {
		utils.Success(ctx, cached)
		return
	}

	habits, err := h.store.ListOwned(reqCtx, userID)
	if err != nil {
		utils.Sugar.Errorw("list habits failed", "user_id", userID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50061, "failed to retrieve habits")
		return
	}
	out := make([]models.Habit, 0, len(habits))
	for _, habit := range habits {
		out = append(out, present(habit))
	}

	h.lists.set(reqCtx, userID, version, out)
	utils.Success(ctx, out)
}

// GetHabit returns one habit owned by the caller.
func (h *HabitController) GetHabit(ctx *gin.Context) {
	userID, habitID, ok := h.identify(ctx)
	if !ok {
		return
	}

	habit, err := h.store.FindOwned(ctx.Request.Context(), habitID, userID)
	if err != nil {
		h.fail(ctx, err, "failed to load habit")
		return
	}
	utils.Success(ctx, present(habit))
}

// UpdateHabit replaces name, target days or start date. Check-ins and streaks are untouched.
func (h *HabitController) UpdateHabit(ctx *gin.Context) {
	userID, habitID, ok := h.identify(ctx)
	if !ok {
		return
	}

	var req habitUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid request payload")
		return
	}

	var patch store.HabitPatch
	if req.Name != nil {
		name := utils.SanitizeText(*req.Name)
		if name == "" {
			utils.Error(ctx, http.StatusBadRequest, 40061, "name cannot be empty")
			return
		}
		patch.Name = &name
	}
	if req.TargetDays != nil {
		days, err := models.ParseWeekdays(*req.TargetDays)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40062, err.Error())
			return
		}
		patch.TargetDays = days
	}
	if req.StartDate != nil {
		start, err := parseDate(*req.StartDate, h.engine.Location())
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40064, err.Error())
			return
		}
		start = start.UTC()
		patch.StartDate = &start
	}

	habit, err := h.store.UpdateFields(ctx.Request.Context(), habitID, userID, patch)
	if err != nil {
		h.fail(ctx, err, "failed to update habit")
		return
	}

	h.invalidate(ctx, userID)
	utils.Success(ctx, present(habit))
}

// DeleteHabit removes a habit together with its check-ins.
func (h *HabitController) DeleteHabit(ctx *gin.Context) {
	userID, habitID, ok := h.identify(ctx)
	if !ok {
		return
	}

	if err := h.store.DeleteOwned(ctx.Request.Context(), habitID, userID); err != nil {
		h.fail(ctx, err, "failed to delete habit")
		return
	}

	h.invalidate(ctx, userID)
	utils.Success(ctx, gin.H{"id": habitID})
}

// CheckIn records the status of a habit for one calendar day and returns the habit
// with recomputed streaks. Without a date the current day is used.
func (h *HabitController) CheckIn(ctx *gin.Context) {
	userID, habitID, ok := h.identify(ctx)
	if !ok {
		return
	}

	var req checkInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid request payload")
		return
	}

	status, err := models.ParseCheckInStatus(req.Status)
	if err != nil {
		metrics.RecordCheckIn(req.Status, metrics.OutcomeInvalid)
		utils.Error(ctx, http.StatusBadRequest, 40063, err.Error())
		return
	}

	var date time.Time
	if strings.TrimSpace(req.Date) != "" {
		if date, err = parseDate(req.Date, h.engine.Location()); err != nil {
			metrics.RecordCheckIn(string(status), metrics.OutcomeInvalid)
			utils.Error(ctx, http.StatusBadRequest, 40064, err.Error())
			return
		}
	}

	habit, err := h.store.RecordCheckIn(ctx.Request.Context(), habitID, userID, func(current models.Habit) (models.Habit, error) {
		return h.engine.RecordCheckIn(current, date, status)
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrHabitNotFound):
			metrics.RecordCheckIn(string(status), metrics.OutcomeNotFound)
		case errors.Is(err, streak.ErrInvalidStatus):
			metrics.RecordCheckIn(string(status), metrics.OutcomeInvalid)
		default:
			metrics.RecordCheckIn(string(status), metrics.OutcomeFailed)
		}
		h.fail(ctx, err, "failed to record check-in")
		return
	}

	metrics.RecordCheckIn(string(status), metrics.OutcomeRecorded)
	metrics.ObserveStreak(habit.CurrentStreak)
	utils.Sugar.Debugw("check-in recorded",
		"user_id", userID, "habit_id", habitID, "status", status,
		"current_streak", habit.CurrentStreak, "longest_streak", habit.LongestStreak)

	h.invalidate(ctx, userID)
	utils.Success(ctx, present(habit))
}

// identify resolves the caller and the :id path parameter, answering the request on failure.
func (h *HabitController) identify(ctx *gin.Context) (uint, uint, bool) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return 0, 0, false
	}
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		// ids are opaque; a malformed one simply matches nothing
		utils.Error(ctx, http.StatusNotFound, 40460, store.ErrHabitNotFound.Error())
		return 0, 0, false
	}
	return userID, uint(id), true
}

// fail maps store and engine errors onto the response envelope.
func (h *HabitController) fail(ctx *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrHabitNotFound):
		utils.Error(ctx, http.StatusNotFound, 40460, err.Error())
	case errors.Is(err, streak.ErrInvalidStatus):
		utils.Error(ctx, http.StatusBadRequest, 40063, err.Error())
	case errors.Is(err, store.ErrPersistence):
		utils.Sugar.Errorw(msg, "path", ctx.FullPath(), "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50063, store.ErrPersistence.Error())
	default:
		utils.Sugar.Errorw(msg, "path", ctx.FullPath(), "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50062, msg)
	}
}

func (h *HabitController) invalidate(ctx *gin.Context, userID uint) {
	h.lists.bump(ctx.Request.Context(), userID)
}

// parseDate accepts a civil day in loc or a full RFC3339 instant.
func parseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errInvalidDate
}

// present fixes empty collections so they serialize as [] rather than null.
func present(h models.Habit) models.Habit {
	if h.CheckIns == nil {
		h.CheckIns = []models.CheckIn{}
	}
	if h.TargetDays == nil {
		h.TargetDays = models.Weekdays{}
	}
	return h
}

func getUserID(ctx *gin.Context) (uint, bool) {
	return middleware.CurrentUserID(ctx)
}
