package db

import (
	"testing"
)

func setupTestRepo(t *testing.T) *Repository {
	repo, err := NewRepository(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return repo
}

func TestActiveServersByLoad(t *testing.T) {
	repo := setupTestRepo(t)

	loc := Location{Name: "Германия", Flag: "🇩🇪", Active: true}
	repo.DB().Create(&loc)

	servers := []Server{
		{LocationID: loc.ID, Host: "https://s1.example.com", Username: "a", Password: "a", InboundID: 1, Capacity: 10, CurrentUsers: 7, Active: true},
		{LocationID: loc.ID, Host: "https://s2.example.com", Username: "a", Password: "a", InboundID: 1, Capacity: 10, CurrentUsers: 3, Active: true},
		{LocationID: loc.ID, Host: "https://s3.example.com", Username: "a", Password: "a", InboundID: 1, Capacity: 10, CurrentUsers: 3, Active: true},
		{LocationID: loc.ID, Host: "https://s4.example.com", Username: "a", Password: "a", InboundID: 1, Capacity: 5, CurrentUsers: 5, Active: true},
		{LocationID: loc.ID, Host: "https://s5.example.com", Username: "a", Password: "a", InboundID: 1, Capacity: 10, CurrentUsers: 0, Active: false},
	}
	for i := range servers {
		repo.DB().Create(&servers[i])
	}

	got, err := repo.ActiveServersByLoad(loc.ID)
	if err != nil {
		t.Fatalf("ActiveServersByLoad: %v", err)
	}

	// Полный (s4) и выключенный (s5) отфильтрованы, наименее
	// загруженные впереди, при равенстве - меньший id.
	if len(got) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(got))
	}
	if got[0].ID != servers[1].ID {
		t.Errorf("expected server s2 first, got id %d", got[0].ID)
	}
	if got[1].ID != servers[2].ID {
		t.Errorf("expected server s3 second, got id %d", got[1].ID)
	}
	if got[2].ID != servers[0].ID {
		t.Errorf("expected server s1 last, got id %d", got[2].ID)
	}
}

func TestLocationCapacity(t *testing.T) {
	repo := setupTestRepo(t)

	loc := Location{Name: "Нидерланды", Flag: "🇳🇱", Active: true}
	repo.DB().Create(&loc)

	repo.DB().Create(&Server{LocationID: loc.ID, Host: "h", Username: "u", Password: "p", InboundID: 1, Capacity: 10, CurrentUsers: 4, Active: true})
	repo.DB().Create(&Server{LocationID: loc.ID, Host: "h", Username: "u", Password: "p", InboundID: 1, Capacity: 20, CurrentUsers: 6, Active: true})
	// Выключенный сервер в ёмкость не входит
	repo.DB().Create(&Server{LocationID: loc.ID, Host: "h", Username: "u", Password: "p", InboundID: 1, Capacity: 100, CurrentUsers: 0, Active: false})

	capacity, used, err := repo.LocationCapacity(loc.ID)
	if err != nil {
		t.Fatalf("LocationCapacity: %v", err)
	}
	if capacity != 30 {
		t.Errorf("capacity = %d, want 30", capacity)
	}
	if used != 10 {
		t.Errorf("used = %d, want 10", used)
	}
}

func TestPaidOrderWithUsername(t *testing.T) {
	repo := setupTestRepo(t)

	user := User{TgID: 1001, Name: "test"}
	repo.DB().Create(&user)

	planID := uint(1)
	repo.DB().Create(&Plan{Name: "Месяц", Price: 100000, DurationDays: 30, VolumeGB: 50, Active: true})

	repo.DB().Create(&Order{UserID: user.ID, PlanID: &planID, Status: OrderStatusPaid, Amount: 100000, PanelUsername: "taken1", ConfigLink: "vless://x"})
	repo.DB().Create(&Order{UserID: user.ID, PlanID: &planID, Status: OrderStatusPending, Amount: 100000, PanelUsername: "pendingname"})

	tests := []struct {
		name     string
		username string
		expected bool
	}{
		{"Paid username is taken", "taken1", true},
		{"Pending username is free", "pendingname", false},
		{"Unknown username is free", "nobody", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.PaidOrderWithUsername(tt.username)
			if err != nil {
				t.Fatalf("PaidOrderWithUsername: %v", err)
			}
			if got != tt.expected {
				t.Errorf("PaidOrderWithUsername(%q) = %v, want %v", tt.username, got, tt.expected)
			}
		})
	}
}

// Выключенная запись обязана сохраниться выключенной: false - нулевое
// значение, и default-тег на колонке молча превращал бы его в true.
func TestInactiveRowsStayInactive(t *testing.T) {
	repo := setupTestRepo(t)

	plan := Plan{Name: "Архивный", Price: 100, DurationDays: 30, VolumeGB: 10, Active: false}
	if err := repo.DB().Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	code := DiscountCode{Code: "OLD10", Active: false, Kind: "fixed", Value: 10}
	if err := repo.DB().Create(&code).Error; err != nil {
		t.Fatalf("create discount code: %v", err)
	}

	var gotPlan Plan
	repo.DB().First(&gotPlan, plan.ID)
	if gotPlan.Active {
		t.Error("inactive plan was stored as active")
	}

	var gotCode DiscountCode
	repo.DB().First(&gotCode, code.ID)
	if gotCode.Active {
		t.Error("inactive discount code was stored as active")
	}

	plans, err := repo.ActivePlans()
	if err != nil {
		t.Fatalf("ActivePlans: %v", err)
	}
	if len(plans) != 0 {
		t.Errorf("inactive plan leaked into showcase: %d plans", len(plans))
	}
}

func TestPendingOrderForUser(t *testing.T) {
	repo := setupTestRepo(t)

	// Коды у обоих: на колонке уникальный индекс, и два пустых
	// значения столкнулись бы.
	owner := User{TgID: 1, Name: "owner", ReferralCode: "1ref"}
	stranger := User{TgID: 2, Name: "stranger", ReferralCode: "2ref"}
	if err := repo.DB().Create(&owner).Error; err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if err := repo.DB().Create(&stranger).Error; err != nil {
		t.Fatalf("create stranger: %v", err)
	}

	plan := Plan{Name: "Месяц", Price: 100000, DurationDays: 30, VolumeGB: 50, Active: true}
	repo.DB().Create(&plan)

	order := Order{UserID: owner.ID, PlanID: &plan.ID, Status: OrderStatusPending, Amount: plan.Price}
	repo.DB().Create(&order)

	if _, err := repo.PendingOrderForUser(order.ID, owner.ID); err != nil {
		t.Errorf("owner should see own pending order: %v", err)
	}
	if _, err := repo.PendingOrderForUser(order.ID, stranger.ID); err == nil {
		t.Error("stranger must not see someone else's order")
	}

	repo.DB().Model(&order).Update("status", OrderStatusPaid)
	if _, err := repo.PendingOrderForUser(order.ID, owner.ID); err == nil {
		t.Error("paid order must not resolve as pending")
	}
}
