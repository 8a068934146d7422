package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/habits/models"
	"github.com/cppla/habits/streak"
	"github.com/cppla/habits/utils"
)

// StatsController reports per-user habit totals.
type StatsController struct {
	db     *gorm.DB
	engine streak.Engine
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, engine streak.Engine) *StatsController {
	return &StatsController{db: db, engine: engine}
}

// GetStats returns the caller's habit and check-in counts, how many habits were
// completed today and the best streak across all habits.
func (s *StatsController) GetStats(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	db := s.db.WithContext(ctx.Request.Context())
	var habitCount, checkInCount, completedToday, activeStreaks int64
	var bestStreak int

	if err := db.Model(&models.Habit{}).Where("user_id = ?", userID).Count(&habitCount).Error; err != nil {
		// fall back to 0 instead of failing the whole endpoint
		utils.Sugar.Warnw("count habits failed", "user_id", userID, "error", err)
		habitCount = 0
	}

	ownedCheckIns := func() *gorm.DB {
		return db.Model(&models.CheckIn{}).
			Joins("JOIN habits ON habits.id = check_ins.habit_id").
			Where("habits.user_id = ?", userID)
	}
	if err := ownedCheckIns().Count(&checkInCount).Error; err != nil {
		utils.Sugar.Warnw("count check-ins failed", "user_id", userID, "error", err)
		checkInCount = 0
	}

	today := s.engine.Today()
	if err := ownedCheckIns().
		Where("check_ins.date = ? AND check_ins.status = ?", today.Time(), models.CheckInCompleted).
		Count(&completedToday).Error; err != nil {
		utils.Sugar.Warnw("count completed today failed", "user_id", userID, "error", err)
		completedToday = 0
	}

	if err := db.Model(&models.Habit{}).Where("user_id = ? AND current_streak > 0", userID).
		Count(&activeStreaks).Error; err != nil {
		utils.Sugar.Warnw("count active streaks failed", "user_id", userID, "error", err)
		activeStreaks = 0
	}

	if err := db.Model(&models.Habit{}).Where("user_id = ?", userID).
		Select("COALESCE(MAX(longest_streak),0)").
		Scan(&bestStreak).Error; err != nil {
		utils.Sugar.Warnw("best streak failed", "user_id", userID, "error", err)
		bestStreak = 0
	}

	utils.Success(ctx, gin.H{
		"date":            today.String(),
		"habit_count":     habitCount,
		"checkin_count":   checkInCount,
		"completed_today": completedToday,
		"active_streaks":  activeStreaks,
		"best_streak":     bestStreak,
	})
}
