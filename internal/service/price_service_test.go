package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yearbookpress/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPriceServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:price-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.User{}, &db.Yearbook{}, &db.YearbookPage{}, &db.PriceChange{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return gdb
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) PriceChanged(yearbookID uint, oldPrice, newPrice string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%d:%s->%s", yearbookID, oldPrice, newPrice))
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func TestParsePriceCents(t *testing.T) {
	tests := []struct {
		input   string
		cents   int
		wantErr error
	}{
		{input: "1.99", cents: 199},
		{input: "49.99", cents: 4999},
		{input: " 12.99 ", cents: 1299},
		{input: "1.98", wantErr: ErrPriceOutOfRange},
		{input: "50.00", wantErr: ErrPriceOutOfRange},
		{input: "", wantErr: ErrPriceInvalid},
		{input: "abc", wantErr: ErrPriceInvalid},
	}

	for _, tt := range tests {
		cents, err := ParsePriceCents(tt.input)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("%q: expected %v, got %v", tt.input, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.input, err)
		}
		if cents != tt.cents {
			t.Fatalf("%q: expected %d cents, got %d", tt.input, tt.cents, cents)
		}
	}
}

func TestPriceService_FirstSetDoesNotStartCooldown(t *testing.T) {
	gdb := setupPriceServiceTestDB(t)
	svc := NewPriceService(gdb, nil)

	yearbook := db.Yearbook{SchoolID: 1, Year: 2026, Title: "首次定价"}
	if err := gdb.Create(&yearbook).Error; err != nil {
		t.Fatalf("create yearbook: %v", err)
	}

	updated, err := svc.SetPrice(yearbook.ID, "12.99", 0)
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	if updated.Price != "12.99" {
		t.Fatalf("expected canonical price 12.99, got %q", updated.Price)
	}
	if updated.LastPriceIncreaseAt != nil {
		t.Fatalf("first price set must not start the cooldown")
	}

	allowed, _, err := svc.CanIncrease(yearbook.ID)
	if err != nil {
		t.Fatalf("can increase: %v", err)
	}
	if !allowed {
		t.Fatalf("increase must be allowed right after first set")
	}
}

func TestPriceService_IncreaseCooldown(t *testing.T) {
	gdb := setupPriceServiceTestDB(t)
	svc := NewPriceService(gdb, nil)

	yearbook := db.Yearbook{SchoolID: 1, Year: 2026, Title: "涨价冷却", Price: "10.00"}
	if err := gdb.Create(&yearbook).Error; err != nil {
		t.Fatalf("create yearbook: %v", err)
	}

	updated, err := svc.SetPrice(yearbook.ID, "12.00", 0)
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if updated.LastPriceIncreaseAt == nil {
		t.Fatalf("increase must stamp the cooldown timestamp")
	}

	_, err = svc.SetPrice(yearbook.ID, "13.00", 0)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected *CooldownError, got %T", err)
	}
	if !cooldown.NextAllowed.After(time.Now()) {
		t.Fatalf("next allowed must be in the future, got %v", cooldown.NextAllowed)
	}

	// 冷却期内降价不受限制
	if _, err := svc.SetPrice(yearbook.ID, "9.00", 0); err != nil {
		t.Fatalf("decrease during cooldown: %v", err)
	}

	// 降价不会重置冷却：随后的涨价依旧被挡
	if _, err := svc.SetPrice(yearbook.ID, "11.00", 0); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("increase after decrease must still hit the cooldown, got %v", err)
	}

	// 冷却以最近一次涨价为锚点：把时间戳拨回 31 天后放行
	past := time.Now().Add(-31 * 24 * time.Hour)
	if err := gdb.Model(&db.Yearbook{}).Where("id = ?", yearbook.ID).
		Update("last_price_increase_at", past).Error; err != nil {
		t.Fatalf("backdate cooldown: %v", err)
	}
	if _, err := svc.SetPrice(yearbook.ID, "11.00", 0); err != nil {
		t.Fatalf("increase after cooldown expiry: %v", err)
	}
}

func TestPriceService_AuditTrail(t *testing.T) {
	gdb := setupPriceServiceTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewPriceService(gdb, notifier)

	user := db.User{Username: "editor"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	yearbook := db.Yearbook{SchoolID: 1, Year: 2026, Title: "审计"}
	if err := gdb.Create(&yearbook).Error; err != nil {
		t.Fatalf("create yearbook: %v", err)
	}

	if _, err := svc.SetPrice(yearbook.ID, "10.00", user.ID); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if _, err := svc.SetPrice(yearbook.ID, "12.00", user.ID); err != nil {
		t.Fatalf("increase: %v", err)
	}
	// 相同价格是无操作，不产生流水
	if _, err := svc.SetPrice(yearbook.ID, "12.00", user.ID); err != nil {
		t.Fatalf("same price: %v", err)
	}

	history, err := svc.History(yearbook.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(history))
	}
	if history[0].NewPrice != "12.00" || history[0].OldPrice != "10.00" {
		t.Fatalf("newest entry wrong: %+v", history[0])
	}
	if history[0].User.Username != "editor" {
		t.Fatalf("audit row must carry the actor, got %q", history[0].User.Username)
	}

	// 通知是 fire-and-forget 的后台任务，稍等片刻再断言
	deadline := time.Now().Add(time.Second)
	for notifier.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected 2 notifications, got %d", notifier.count())
	}
}
