package billing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"melon-bot/internal/config"
	"melon-bot/internal/db"
)

// fakeProvisioner подменяет панель в тестах.
type fakeProvisioner struct {
	failProvision bool
	failRenew     bool
	emptyLink     bool

	mu          sync.Mutex
	provisioned []string
	renewed     []uint
}

func (f *fakeProvisioner) Provision(ctx context.Context, order *db.Order, quotaBytes int64) error {
	if f.failProvision {
		return errors.New("panel is down")
	}
	if !f.emptyLink {
		order.ConfigLink = "vless://test-uuid@host:443#" + order.PanelUsername
		order.PanelClientID = "test-uuid"
	}
	f.mu.Lock()
	f.provisioned = append(f.provisioned, order.PanelUsername)
	f.mu.Unlock()
	return nil
}

func (f *fakeProvisioner) Renew(ctx context.Context, order *db.Order, newExpiry time.Time, quotaBytes int64) error {
	if f.failRenew {
		return errors.New("panel is down")
	}
	f.mu.Lock()
	f.renewed = append(f.renewed, order.ID)
	f.mu.Unlock()
	return nil
}

func setupTestService(t *testing.T) (*Service, *db.Repository, *fakeProvisioner) {
	repo, err := db.NewRepository(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	cfg := &config.Config{
		MinDepositAmount:   10000,
		TrialEnabled:       true,
		TrialLimitPerUser:  1,
		TrialVolumeMB:      200,
		TrialDurationHours: 24,
	}

	prov := &fakeProvisioner{}
	return New(repo, prov, cfg), repo, prov
}

func createTestUser(t *testing.T, repo *db.Repository, balance int) *db.User {
	user := &db.User{TgID: 555001, Name: "tester", Balance: balance, ReferralCode: "ref555001"}
	if err := repo.DB().Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createTestPlan(t *testing.T, repo *db.Repository, price, days int) *db.Plan {
	plan := &db.Plan{Name: "Месяц 50ГБ", Price: price, DurationDays: days, VolumeGB: 50, Active: true}
	if err := repo.DB().Create(plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func TestPayWithWalletSuccess(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 150000)
	plan := createTestPlan(t, repo, 100000, 30)

	order, err := svc.StartPurchase(user, plan.ID, "alice1", 0)
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}

	paid, err := svc.PayWithWallet(context.Background(), user.ID, order.ID)
	if err != nil {
		t.Fatalf("PayWithWallet: %v", err)
	}

	if paid.Status != db.OrderStatusPaid {
		t.Errorf("order status = %s, want paid", paid.Status)
	}
	if paid.ConfigLink == "" {
		t.Error("paid order must carry a config link")
	}

	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 50000 {
		t.Errorf("balance = %d, want 50000", fresh.Balance)
	}

	var ledger db.Transaction
	if err := repo.DB().Where("user_id = ? AND order_id = ?", user.ID, order.ID).First(&ledger).Error; err != nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if ledger.Amount != -100000 {
		t.Errorf("ledger amount = %d, want -100000", ledger.Amount)
	}

	var stored db.Order
	repo.DB().First(&stored, order.ID)
	if stored.ExpiresAt == nil {
		t.Fatal("expires_at not set")
	}
	wantExpiry := time.Now().AddDate(0, 0, 30)
	if diff := stored.ExpiresAt.Sub(wantExpiry); diff > time.Minute || diff < -time.Minute {
		t.Errorf("expiry %v too far from now+30d", stored.ExpiresAt)
	}
}

func TestPayWithWalletInsufficientFunds(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 30000)
	plan := createTestPlan(t, repo, 100000, 30)

	order, err := svc.StartPurchase(user, plan.ID, "bob22", 0)
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}

	_, err = svc.PayWithWallet(context.Background(), user.ID, order.ID)
	var ferr *FundsError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FundsError, got %v", err)
	}
	if ferr.Missing != 70000 {
		t.Errorf("missing = %d, want 70000", ferr.Missing)
	}

	// Ничего не изменилось: баланс прежний, заказ pending, журнал пуст
	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 30000 {
		t.Errorf("balance = %d, want 30000", fresh.Balance)
	}
	var stored db.Order
	repo.DB().First(&stored, order.ID)
	if stored.Status != db.OrderStatusPending {
		t.Errorf("order status = %s, want pending", stored.Status)
	}
	var n int64
	repo.DB().Model(&db.Transaction{}).Count(&n)
	if n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
}

func TestPayWithWalletProvisioningFailureRollsBack(t *testing.T) {
	svc, repo, prov := setupTestService(t)
	user := createTestUser(t, repo, 150000)
	plan := createTestPlan(t, repo, 100000, 30)

	order, err := svc.StartPurchase(user, plan.ID, "carol3", 0)
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}

	prov.failProvision = true
	_, err = svc.PayWithWallet(context.Background(), user.ID, order.ID)
	var perr *ProvisioningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}

	// Откат полный: списание, журнал и статус вернулись
	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 150000 {
		t.Errorf("balance = %d, want 150000 after rollback", fresh.Balance)
	}
	var stored db.Order
	repo.DB().First(&stored, order.ID)
	if stored.Status != db.OrderStatusPending {
		t.Errorf("order status = %s, want pending", stored.Status)
	}
	if stored.ConfigLink != "" {
		t.Error("rolled back order must not keep a link")
	}
	var n int64
	repo.DB().Model(&db.Transaction{}).Count(&n)
	if n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
}

func TestPayWithWalletEmptyLinkAborts(t *testing.T) {
	svc, repo, prov := setupTestService(t)
	user := createTestUser(t, repo, 150000)
	plan := createTestPlan(t, repo, 100000, 30)

	order, _ := svc.StartPurchase(user, plan.ID, "dave44", 0)

	prov.emptyLink = true
	_, err := svc.PayWithWallet(context.Background(), user.ID, order.ID)
	var perr *ProvisioningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProvisioningError on empty link, got %v", err)
	}

	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 150000 {
		t.Errorf("balance = %d, want 150000 after rollback", fresh.Balance)
	}
}

func TestPayWithWalletTwiceIsRejected(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 300000)
	plan := createTestPlan(t, repo, 100000, 30)

	order, _ := svc.StartPurchase(user, plan.ID, "erin55", 0)
	if _, err := svc.PayWithWallet(context.Background(), user.ID, order.ID); err != nil {
		t.Fatalf("first payment: %v", err)
	}

	// Повторная доставка того же события не списывает деньги второй раз
	_, err := svc.PayWithWallet(context.Background(), user.ID, order.ID)
	var oerr *OrderStateError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected OrderStateError on duplicate payment, got %v", err)
	}

	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 200000 {
		t.Errorf("balance = %d, want 200000", fresh.Balance)
	}
}

// Гонка списаний: сколько бы заказов ни оплачивалось одновременно,
// сумма успешных списаний не превышает стартовый баланс, и баланс не
// уходит в минус. Файловый sqlite, чтобы транзакции шли по разным
// соединениям, как в проде.
func TestPayWithWalletConcurrentDebits(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "billing.db") + "?_busy_timeout=5000"
	repo, err := db.NewRepository(dsn)
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	svc := New(repo, &fakeProvisioner{}, &config.Config{MinDepositAmount: 100})

	const price = 500
	initial := 2 * price
	user := createTestUser(t, repo, initial)
	plan := createTestPlan(t, repo, price, 30)

	usernames := []string{"race1", "race2", "race3", "race4"}
	orderIDs := make([]uint, 0, len(usernames))
	for _, name := range usernames {
		order, err := svc.StartPurchase(user, plan.ID, name, 0)
		if err != nil {
			t.Fatalf("StartPurchase(%s): %v", name, err)
		}
		orderIDs = append(orderIDs, order.ID)
	}

	var wg sync.WaitGroup
	var successes int32
	for _, orderID := range orderIDs {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			if _, err := svc.PayWithWallet(context.Background(), user.ID, id); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}(orderID)
	}
	wg.Wait()

	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance < 0 {
		t.Errorf("balance went negative: %d", fresh.Balance)
	}

	paid := int(atomic.LoadInt32(&successes))
	if paid*price > initial {
		t.Errorf("successful debits %d exceed initial balance %d", paid*price, initial)
	}
	if debited := initial - fresh.Balance; debited != paid*price {
		t.Errorf("debited %d, but %d payments of %d succeeded", debited, paid, price)
	}
}

func TestApplyAndRemoveDiscount(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 0)
	plan := createTestPlan(t, repo, 100000, 30)

	repo.DB().Create(&db.DiscountCode{Code: "SPRING20", Active: true, Kind: "percent", Value: 20})
	repo.DB().Create(&db.DiscountCode{Code: "FLAT30", Active: true, Kind: "fixed", Value: 30000})

	order, _ := svc.StartPurchase(user, plan.ID, "frank6", 0)

	order, err := svc.ApplyDiscount(user, order.ID, "SPRING20")
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if order.Amount != 80000 || order.DiscountAmount != 20000 {
		t.Errorf("after SPRING20: amount=%d discount=%d, want 80000/20000", order.Amount, order.DiscountAmount)
	}

	// Второй код считается от базовой цены, а не от уже сниженной
	order, err = svc.ApplyDiscount(user, order.ID, "FLAT30")
	if err != nil {
		t.Fatalf("ApplyDiscount FLAT30: %v", err)
	}
	if order.Amount != 70000 || order.DiscountAmount != 30000 {
		t.Errorf("after FLAT30: amount=%d discount=%d, want 70000/30000", order.Amount, order.DiscountAmount)
	}

	order, err = svc.RemoveDiscount(user, order.ID)
	if err != nil {
		t.Fatalf("RemoveDiscount: %v", err)
	}
	if order.Amount != 100000 || order.DiscountAmount != 0 || order.DiscountCodeID != nil {
		t.Errorf("after removal: amount=%d discount=%d code=%v, want base price and no code",
			order.Amount, order.DiscountAmount, order.DiscountCodeID)
	}
}

func TestDiscountUsageRecordedOnPayment(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 100000)
	plan := createTestPlan(t, repo, 100000, 30)

	repo.DB().Create(&db.DiscountCode{Code: "HALF", Active: true, Kind: "percent", Value: 50})

	order, _ := svc.StartPurchase(user, plan.ID, "grace7", 0)
	if _, err := svc.ApplyDiscount(user, order.ID, "HALF"); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if _, err := svc.PayWithWallet(context.Background(), user.ID, order.ID); err != nil {
		t.Fatalf("PayWithWallet: %v", err)
	}

	var usage db.DiscountCodeUsage
	if err := repo.DB().Where("order_id = ?", order.ID).First(&usage).Error; err != nil {
		t.Fatalf("usage row missing: %v", err)
	}
	if usage.DiscountAmount != 50000 || usage.OriginalAmount != 100000 {
		t.Errorf("usage: discount=%d original=%d, want 50000/100000", usage.DiscountAmount, usage.OriginalAmount)
	}

	var code db.DiscountCode
	repo.DB().Where("code = ?", "HALF").First(&code)
	if code.UsedCount != 1 {
		t.Errorf("used_count = %d, want 1", code.UsedCount)
	}

	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 50000 {
		t.Errorf("balance = %d, want 50000 (списана сумма со скидкой)", fresh.Balance)
	}
}

func TestStartPurchaseUsernameValidation(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 0)
	plan := createTestPlan(t, repo, 100000, 30)

	taken := db.Order{UserID: user.ID, PlanID: &plan.ID, Status: db.OrderStatusPaid, Amount: 1, PanelUsername: "occupied", ConfigLink: "vless://x"}
	repo.DB().Create(&taken)

	tests := []struct {
		name     string
		username string
	}{
		{"Too short", "ab"},
		{"Has space", "my name"},
		{"Non-latin", "пользователь"},
		{"Special chars", "user_1"},
		{"Taken by paid order", "occupied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StartPurchase(user, plan.ID, tt.username, 0)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError for %q, got %v", tt.username, err)
			}
		})
	}
}

func TestStartPurchaseAllocatesLeastLoadedServer(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 0)
	plan := createTestPlan(t, repo, 100000, 30)

	loc := db.Location{Name: "Германия", Active: true}
	repo.DB().Create(&loc)
	busy := db.Server{LocationID: loc.ID, Host: "h1", Username: "u", Password: "p", InboundID: 1, Capacity: 10, CurrentUsers: 9, Active: true}
	free := db.Server{LocationID: loc.ID, Host: "h2", Username: "u", Password: "p", InboundID: 1, Capacity: 10, CurrentUsers: 2, Active: true}
	repo.DB().Create(&busy)
	repo.DB().Create(&free)

	order, err := svc.StartPurchase(user, plan.ID, "henry8", loc.ID)
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}
	if order.ServerID == nil || *order.ServerID != free.ID {
		t.Errorf("allocated server = %v, want %d (least loaded)", order.ServerID, free.ID)
	}

	// Привязка не резервирует место
	var fresh db.Server
	repo.DB().First(&fresh, free.ID)
	if fresh.CurrentUsers != 2 {
		t.Errorf("current_users = %d, want 2 (no increment on allocation)", fresh.CurrentUsers)
	}
}

func TestStartPurchaseFullLocation(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 0)
	plan := createTestPlan(t, repo, 100000, 30)

	loc := db.Location{Name: "Франция", Active: true}
	repo.DB().Create(&loc)
	repo.DB().Create(&db.Server{LocationID: loc.ID, Host: "h", Username: "u", Password: "p", InboundID: 1, Capacity: 5, CurrentUsers: 5, Active: true})

	_, err := svc.StartPurchase(user, plan.ID, "iris99", loc.ID)
	var cerr *CapacityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
}

func TestCreateDepositOrderMinimum(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 0)

	_, err := svc.CreateDepositOrder(user, 5000)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError below minimum, got %v", err)
	}

	order, err := svc.CreateDepositOrder(user, 50000)
	if err != nil {
		t.Fatalf("CreateDepositOrder: %v", err)
	}
	if !order.IsDeposit() {
		t.Error("deposit order must have nil plan and deposit source")
	}
}

func TestApproveDepositCreditsBalance(t *testing.T) {
	svc, repo, _ := setupTestService(t)
	user := createTestUser(t, repo, 10000)

	order, err := svc.CreateDepositOrder(user, 50000)
	if err != nil {
		t.Fatalf("CreateDepositOrder: %v", err)
	}
	if _, err := svc.AttachReceipt(user.ID, order.ID, "file123"); err != nil {
		t.Fatalf("AttachReceipt: %v", err)
	}

	approved, err := svc.ApproveCardOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("ApproveCardOrder: %v", err)
	}
	if approved.Status != db.OrderStatusPaid {
		t.Errorf("status = %s, want paid", approved.Status)
	}

	var fresh db.User
	repo.DB().First(&fresh, user.ID)
	if fresh.Balance != 60000 {
		t.Errorf("balance = %d, want 60000", fresh.Balance)
	}

	var ledger db.Transaction
	if err := repo.DB().Where("order_id = ?", order.ID).First(&ledger).Error; err != nil {
		t.Fatalf("deposit ledger row missing: %v", err)
	}
	if ledger.Amount != 50000 || ledger.Type != db.TransactionTypeDeposit {
		t.Errorf("ledger = %+v, want +50000 deposit", ledger)
	}
}

func TestCreateTrialRespectsLimit(t *testing.T) {
	svc, repo, prov := setupTestService(t)
	user := createTestUser(t, repo, 0)

	order, err := svc.CreateTrial(context.Background(), user)
	if err != nil {
		t.Fatalf("CreateTrial: %v", err)
	}
	if order.PanelUsername == "" || order.ConfigLink == "" {
		t.Error("trial order must have username and link")
	}
	if len(prov.provisioned) != 1 {
		t.Errorf("provisioned %d accounts, want 1", len(prov.provisioned))
	}

	_, err = svc.CreateTrial(context.Background(), user)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on second trial, got %v", err)
	}
}
