package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRepositoryTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:coupon_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func createTestTemplate(t *testing.T, db *gorm.DB, partnerID uint, total *int) *models.CouponTemplate {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	template := &models.CouponTemplate{
		PartnerID:      partnerID,
		Name:           "welcome",
		CouponType:     constants.CouponTypeFixed,
		DiscountValue:  models.MoneyFromInt(1000),
		MinOrderAmount: models.MoneyFromInt(0),
		TotalQuantity:  total,
		ValidFrom:      now.Add(-time.Hour),
		ValidUntil:     now.Add(24 * time.Hour),
	}
	template.Touch(now)
	if err := NewCouponTemplateRepository(db).Create(template); err != nil {
		t.Fatalf("create template failed: %v", err)
	}
	return template
}

func TestPartnerRepositoryGetByAPIKey(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewPartnerRepository(db)

	partner := &models.Partner{Name: "acme", APIKey: "key-acme", Status: constants.PartnerStatusActive}
	partner.Touch(time.Now())
	if err := repo.Create(partner); err != nil {
		t.Fatalf("create partner failed: %v", err)
	}

	got, err := repo.GetByAPIKey(" key-acme ")
	if err != nil || got == nil || got.ID != partner.ID {
		t.Fatalf("get by api key failed: %+v err=%v", got, err)
	}
	missing, err := repo.GetByAPIKey("unknown")
	if err != nil || missing != nil {
		t.Fatalf("unknown key should return nil, got %+v err=%v", missing, err)
	}
	empty, err := repo.GetByAPIKey("")
	if err != nil || empty != nil {
		t.Fatalf("empty key should return nil, got %+v err=%v", empty, err)
	}
	byID, err := repo.GetByID(partner.ID)
	if err != nil || byID == nil || !byID.IsActive() {
		t.Fatalf("get by id failed: %+v err=%v", byID, err)
	}
}

func TestCouponRepositoryBatchIgnoresConflicts(t *testing.T) {
	db := setupRepositoryTest(t)
	template := createTestTemplate(t, db, 1, nil)
	repo := NewCouponRepository(db)
	now := time.Now().UTC()

	first := []*models.Coupon{
		models.NewIssuedCoupon(1, template.ID, "u1", template.ValidUntil, now),
		models.NewIssuedCoupon(1, template.ID, "u2", template.ValidUntil, now),
	}
	inserted, err := repo.CreateBatchIgnoreConflicts(first)
	if err != nil || inserted != 2 {
		t.Fatalf("first batch want 2 inserted got %d err=%v", inserted, err)
	}

	// u2 重复，只有 u3 写入
	second := []*models.Coupon{
		models.NewIssuedCoupon(1, template.ID, "u2", template.ValidUntil, now),
		models.NewIssuedCoupon(1, template.ID, "u3", template.ValidUntil, now),
	}
	inserted, err = repo.CreateBatchIgnoreConflicts(second)
	if err != nil || inserted != 1 {
		t.Fatalf("second batch want 1 inserted got %d err=%v", inserted, err)
	}

	count, err := repo.CountByTemplate(template.ID)
	if err != nil || count != 3 {
		t.Fatalf("coupon count want 3 got %d err=%v", count, err)
	}
	exists, err := repo.ExistsByTemplateAndUser(template.ID, "u3")
	if err != nil || !exists {
		t.Fatalf("u3 should exist, exists=%v err=%v", exists, err)
	}
	exists, err = repo.ExistsByTemplateAndUser(template.ID, "u4")
	if err != nil || exists {
		t.Fatalf("u4 should not exist, exists=%v err=%v", exists, err)
	}

	inserted, err = repo.CreateBatchIgnoreConflicts(nil)
	if err != nil || inserted != 0 {
		t.Fatalf("empty batch want 0 got %d err=%v", inserted, err)
	}
}

func TestCouponRepositoryBatchCodeCollisionFails(t *testing.T) {
	db := setupRepositoryTest(t)
	template := createTestTemplate(t, db, 1, nil)
	repo := NewCouponRepository(db)
	now := time.Now().UTC()

	existing := models.NewIssuedCoupon(1, template.ID, "u1", template.ValidUntil, now)
	if _, err := repo.CreateBatchIgnoreConflicts([]*models.Coupon{existing}); err != nil {
		t.Fatalf("seed coupon failed: %v", err)
	}

	// 券码冲突不属于去重范围，必须报错而不是静默跳过
	clash := models.NewIssuedCoupon(1, template.ID, "u2", template.ValidUntil, now)
	clash.Code = existing.Code
	if inserted, err := repo.CreateBatchIgnoreConflicts([]*models.Coupon{clash}); err == nil {
		t.Fatalf("code collision should fail, inserted=%d", inserted)
	}
	exists, err := repo.ExistsByTemplateAndUser(template.ID, "u2")
	if err != nil || exists {
		t.Fatalf("u2 must not be written, exists=%v err=%v", exists, err)
	}
}

func TestCouponRepositoryList(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewCouponRepository(db)
	tplA := createTestTemplate(t, db, 1, nil)
	tplB := createTestTemplate(t, db, 1, nil)
	tplOther := createTestTemplate(t, db, 2, nil)
	now := time.Now().UTC()

	for _, c := range []*models.Coupon{
		models.NewIssuedCoupon(1, tplA.ID, "alice", tplA.ValidUntil, now),
		models.NewIssuedCoupon(1, tplB.ID, "alice", tplB.ValidUntil, now),
		models.NewIssuedCoupon(1, tplA.ID, "bob", tplA.ValidUntil, now),
		models.NewIssuedCoupon(2, tplOther.ID, "alice", tplOther.ValidUntil, now),
	} {
		if err := repo.Create(c); err != nil {
			t.Fatalf("create coupon failed: %v", err)
		}
	}

	rows, total, err := repo.List(CouponListFilter{PartnerID: 1, UserID: "alice", Page: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 || len(rows) != 1 {
		t.Fatalf("list want total=2 len=1 got total=%d len=%d", total, len(rows))
	}
	if rows[0].CouponTemplateID != tplB.ID {
		t.Fatalf("list should order by id desc, got template %d", rows[0].CouponTemplateID)
	}
}

func TestCouponRepositoryGetByCodeForUpdateAndUse(t *testing.T) {
	db := setupRepositoryTest(t)
	template := createTestTemplate(t, db, 1, nil)
	repo := NewCouponRepository(db)
	now := time.Now().UTC()

	coupon := models.NewCoupon(template, "alice", now)
	if err := repo.Create(coupon); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.WithTx(tx).GetByCodeForUpdate(coupon.Code)
		if err != nil || locked == nil {
			return fmt.Errorf("lock coupon failed: %+v err=%v", locked, err)
		}
		if err := locked.Use(1, "alice", "ORDER-1", now); err != nil {
			return err
		}
		return repo.WithTx(tx).Update(locked)
	})
	if err != nil {
		t.Fatalf("use in tx failed: %v", err)
	}

	got, err := repo.GetByCode(coupon.Code)
	if err != nil || got == nil {
		t.Fatalf("reload coupon failed: %+v err=%v", got, err)
	}
	if got.Status != constants.CouponStatusUsed || got.UsedOrderID != "ORDER-1" || got.UsedAt == nil {
		t.Fatalf("coupon should be used, got %+v", got)
	}
	missing, err := repo.GetByCodeForUpdate("NOPE")
	if err != nil || missing != nil {
		t.Fatalf("missing code should return nil, got %+v err=%v", missing, err)
	}
}

func TestCouponTemplateRepositoryIssuedQuantity(t *testing.T) {
	db := setupRepositoryTest(t)
	total := 10
	tplA := createTestTemplate(t, db, 1, &total)
	tplB := createTestTemplate(t, db, 1, &total)
	templates := NewCouponTemplateRepository(db)
	coupons := NewCouponRepository(db)
	now := time.Now().UTC()

	if err := templates.IncrementIssuedQuantities(map[uint]int{tplA.ID: 3, tplB.ID: 1}); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	a, _ := templates.GetByID(tplA.ID)
	b, _ := templates.GetByID(tplB.ID)
	if a.IssuedQuantity != 3 || b.IssuedQuantity != 1 {
		t.Fatalf("increment want 3/1 got %d/%d", a.IssuedQuantity, b.IssuedQuantity)
	}

	for _, user := range []string{"u1", "u2"} {
		if err := coupons.Create(models.NewIssuedCoupon(1, tplA.ID, user, tplA.ValidUntil, now)); err != nil {
			t.Fatalf("create coupon failed: %v", err)
		}
	}
	if err := templates.RecountIssuedQuantities([]uint{tplA.ID, tplB.ID}); err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	a, _ = templates.GetByID(tplA.ID)
	b, _ = templates.GetByID(tplB.ID)
	if a.IssuedQuantity != 2 || b.IssuedQuantity != 0 {
		t.Fatalf("recount want 2/0 got %d/%d", a.IssuedQuantity, b.IssuedQuantity)
	}

	if err := templates.UpdateIssuedQuantity(tplB.ID, 7); err != nil {
		t.Fatalf("update issued failed: %v", err)
	}
	var locked *models.CouponTemplate
	err := templates.Transaction(func(tx *gorm.DB) error {
		var err error
		locked, err = templates.WithTx(tx).GetByIDForUpdate(tplB.ID)
		return err
	})
	if err != nil || locked == nil || locked.IssuedQuantity != 7 {
		t.Fatalf("locked read want 7 got %+v err=%v", locked, err)
	}

	missing, err := templates.GetByID(9999)
	if err != nil || missing != nil {
		t.Fatalf("missing template should return nil, got %+v err=%v", missing, err)
	}
}
