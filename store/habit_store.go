// Package store persists habits and their check-ins with GORM. Every operation is
// scoped to the owning user; a habit that exists but belongs to someone else is
// reported as not found.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/habits/models"
)

var (
	// ErrHabitNotFound means no habit with that id is owned by the caller.
	ErrHabitNotFound = errors.New("habit not found")
	// ErrPersistence wraps failures while saving a computed habit.
	ErrPersistence = errors.New("failed to persist habit")
)

// HabitPatch replaces the non-nil fields of a habit. Streaks are not patchable.
type HabitPatch struct {
	Name       *string
	TargetDays models.Weekdays
	StartDate  *time.Time
}

// MutateFunc derives the next state of a habit from its current state.
type MutateFunc func(current models.Habit) (models.Habit, error)

// HabitStore is the datastore used by the habit handlers.
type HabitStore interface {
	Create(ctx context.Context, habit *models.Habit) error
	ListOwned(ctx context.Context, owner uint) ([]models.Habit, error)
	FindOwned(ctx context.Context, id, owner uint) (models.Habit, error)
	UpdateFields(ctx context.Context, id, owner uint, patch HabitPatch) (models.Habit, error)
	DeleteOwned(ctx context.Context, id, owner uint) error
	RecordCheckIn(ctx context.Context, id, owner uint, mutate MutateFunc) (models.Habit, error)
}

// GormHabitStore implements HabitStore on a gorm connection.
type GormHabitStore struct {
	db *gorm.DB
}

// NewGormHabitStore creates a store backed by db.
func NewGormHabitStore(db *gorm.DB) *GormHabitStore {
	return &GormHabitStore{db: db}
}

func preloadCheckIns(db *gorm.DB) *gorm.DB {
	return db.Order("check_ins.date ASC, check_ins.id ASC")
}

// Create inserts a new habit with no check-ins and zeroed streaks.
func (s *GormHabitStore) Create(ctx context.Context, habit *models.Habit) error {
	habit.CheckIns = nil
	habit.CurrentStreak = 0
	habit.LongestStreak = 0
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(habit).Error; err != nil {
		return fmt.Errorf("create habit: %w", err)
	}
	habit.CheckIns = []models.CheckIn{}
	return nil
}

// ListOwned returns the owner's habits, newest first, with check-ins in date order.
func (s *GormHabitStore) ListOwned(ctx context.Context, owner uint) ([]models.Habit, error) {
	var habits []models.Habit
	err := s.db.WithContext(ctx).
		Preload("CheckIns", preloadCheckIns).
		Where("user_id = ?", owner).
		Order("created_at DESC, id DESC").
		Find(&habits).Error
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return habits, nil
}

// FindOwned loads one habit by id and owner.
func (s *GormHabitStore) FindOwned(ctx context.Context, id, owner uint) (models.Habit, error) {
	return findOwned(s.db.WithContext(ctx), id, owner)
}

func findOwned(tx *gorm.DB, id, owner uint) (models.Habit, error) {
	var habit models.Habit
	err := tx.Preload("CheckIns", preloadCheckIns).
		Where("id = ? AND user_id = ?", id, owner).
		First(&habit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Habit{}, ErrHabitNotFound
	}
	if err != nil {
		return models.Habit{}, fmt.Errorf("find habit: %w", err)
	}
	return habit, nil
}

// UpdateFields replaces name, target days and start date as given by patch.
func (s *GormHabitStore) UpdateFields(ctx context.Context, id, owner uint, patch HabitPatch) (models.Habit, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.TargetDays != nil {
		updates["target_days"] = patch.TargetDays
	}
	if patch.StartDate != nil {
		updates["start_date"] = *patch.StartDate
	}

	var out models.Habit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			res := tx.Model(&models.Habit{}).Where("id = ? AND user_id = ?", id, owner).Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("%w: %w", ErrPersistence, res.Error)
			}
		}
		habit, err := findOwned(tx, id, owner)
		if err != nil {
			return err
		}
		out = habit
		return nil
	})
	if err != nil {
		return models.Habit{}, err
	}
	return out, nil
}

// DeleteOwned removes the habit and its check-ins.
func (s *GormHabitStore) DeleteOwned(ctx context.Context, id, owner uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, owner).Delete(&models.Habit{})
		if res.Error != nil {
			return fmt.Errorf("delete habit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrHabitNotFound
		}
		if err := tx.Where("habit_id = ?", id).Delete(&models.CheckIn{}).Error; err != nil {
			return fmt.Errorf("delete check-ins: %w", err)
		}
		return nil
	})
}

// RecordCheckIn loads the habit under a row lock, applies mutate and saves the result in
// the same transaction, so concurrent check-ins on one habit are applied one at a time.
// Errors returned by mutate abort the transaction unchanged.
func (s *GormHabitStore) RecordCheckIn(ctx context.Context, id, owner uint, mutate MutateFunc) (models.Habit, error) {
	var out models.Habit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findOwned(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id, owner)
		if err != nil {
			return err
		}
		next, err := mutate(current)
		if err != nil {
			return err
		}
		if err := saveCheckIns(tx, current, next); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return models.Habit{}, err
	}
	return out, nil
}

// saveCheckIns writes the check-ins of habit that differ from before, then its streaks.
func saveCheckIns(tx *gorm.DB, before, habit models.Habit) error {
	stored := make(map[uint]models.CheckInStatus, len(before.CheckIns))
	for _, ci := range before.CheckIns {
		stored[ci.ID] = ci.Status
	}
	for i := range habit.CheckIns {
		ci := &habit.CheckIns[i]
		ci.HabitID = habit.ID
		if ci.ID != 0 {
			if status, ok := stored[ci.ID]; ok && status == ci.Status {
				continue
			}
			err := tx.Model(&models.CheckIn{}).Where("id = ?", ci.ID).
				Updates(map[string]interface{}{"status": ci.Status, "updated_at": time.Now().UTC()}).Error
			if err != nil {
				return err
			}
			continue
		}
		// the (habit_id, date) index turns a lost race into an overwrite
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "habit_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).Create(ci).Error
		if err != nil {
			return err
		}
	}
	return tx.Model(&models.Habit{}).Where("id = ?", habit.ID).Updates(map[string]interface{}{
		"current_streak": habit.CurrentStreak,
		"longest_streak": habit.LongestStreak,
	}).Error
}
