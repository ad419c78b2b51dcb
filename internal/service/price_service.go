package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yearbookpress/internal/db"
	"gorm.io/gorm"
)

const (
	// PriceMinCents 与 PriceMaxCents 界定允许的定价区间（$1.99 – $49.99）。
	PriceMinCents = 199
	PriceMaxCents = 4999

	// PriceIncreaseCooldown 是两次涨价之间的最小间隔。
	PriceIncreaseCooldown = 30 * 24 * time.Hour
)

var (
	ErrPriceOutOfRange = errors.New("price is outside the allowed range")
	ErrPriceInvalid    = errors.New("price is not a valid decimal amount")
	// ErrCooldownActive 用于 errors.Is 匹配，具体的下次可调时间见 CooldownError。
	ErrCooldownActive = errors.New("price increase cooldown is active")
)

// CooldownError carries the earliest moment the next increase is allowed.
type CooldownError struct {
	NextAllowed time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("price increase cooldown is active until %s", e.NextAllowed.Format(time.RFC3339))
}

// Is lets callers match with errors.Is(err, ErrCooldownActive).
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// PriceService is the price governor: bounds, the 30-day increase cooldown
// and the append-only audit trail. Every check runs server-side even when a
// client already displayed "can increase" — the cooldown is a fairness
// invariant, not a UI hint.
type PriceService struct {
	db       *gorm.DB
	notifier Notifier
}

// NewPriceService creates a PriceService instance.
func NewPriceService(gdb *gorm.DB, notifier Notifier) *PriceService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PriceService{db: gdb, notifier: notifier}
}

// ParsePriceCents parses a decimal price string ("12.99") into cents and
// validates the allowed range.
func ParsePriceCents(price string) (int, error) {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return 0, ErrPriceInvalid
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, ErrPriceInvalid
	}

	cents := int(value*100 + 0.5)
	if cents < PriceMinCents || cents > PriceMaxCents {
		return 0, ErrPriceOutOfRange
	}
	return cents, nil
}

// FormatPriceCents renders cents back to the canonical decimal string.
func FormatPriceCents(cents int) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// SetPrice validates bounds and the increase cooldown, persists the new
// price, appends an audit entry and emits a fire-and-forget notification.
func (s *PriceService) SetPrice(yearbookID uint, newPrice string, actorID uint) (*db.Yearbook, error) {
	newCents, err := ParsePriceCents(newPrice)
	if err != nil {
		return nil, err
	}

	var yearbook db.Yearbook
	if err := s.db.First(&yearbook, yearbookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrYearbookNotFound
		}
		return nil, err
	}

	oldPrice := strings.TrimSpace(yearbook.Price)
	increase := false
	if oldPrice != "" {
		oldCents, err := ParsePriceCents(oldPrice)
		if err == nil {
			if newCents == oldCents {
				return &yearbook, nil
			}
			increase = newCents > oldCents
		}
	}

	// 降价永远不受冷却约束，涨价必须距上次涨价满 30 天
	if increase && yearbook.LastPriceIncreaseAt != nil {
		nextAllowed := yearbook.LastPriceIncreaseAt.Add(PriceIncreaseCooldown)
		if time.Now().Before(nextAllowed) {
			return nil, &CooldownError{NextAllowed: nextAllowed}
		}
	}

	canonical := FormatPriceCents(newCents)
	updates := map[string]interface{}{"price": canonical}
	now := time.Now()
	if increase {
		// 只有涨价才刷新冷却时间戳，降价与首次定价不计
		updates["last_price_increase_at"] = now
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Yearbook{}).Where("id = ?", yearbookID).Updates(updates).Error; err != nil {
			return err
		}
		entry := db.PriceChange{
			YearbookID: yearbookID,
			OldPrice:   oldPrice,
			NewPrice:   canonical,
			UserID:     actorID,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}

	yearbook.Price = canonical
	if increase {
		yearbook.LastPriceIncreaseAt = &now
	}

	go s.notifier.PriceChanged(yearbookID, oldPrice, canonical)

	return &yearbook, nil
}

// History returns the audit trail, newest first.
func (s *PriceService) History(yearbookID uint) ([]db.PriceChange, error) {
	var entries []db.PriceChange
	if err := s.db.Preload("User").
		Where("yearbook_id = ?", yearbookID).
		Order("created_at desc").Order("id desc").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CanIncrease reports whether an increase is currently allowed and, if not,
// when the cooldown expires.
func (s *PriceService) CanIncrease(yearbookID uint) (bool, *time.Time, error) {
	var yearbook db.Yearbook
	if err := s.db.First(&yearbook, yearbookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, ErrYearbookNotFound
		}
		return false, nil, err
	}

	if yearbook.LastPriceIncreaseAt == nil {
		return true, nil, nil
	}

	nextAllowed := yearbook.LastPriceIncreaseAt.Add(PriceIncreaseCooldown)
	if time.Now().Before(nextAllowed) {
		return false, &nextAllowed, nil
	}
	return true, nil, nil
}
