package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Do1K/b2b-point-service/internal/cache"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/queue"
	"github.com/Do1K/b2b-point-service/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// bufferPublisher 直接写入缓冲区，等价于消息被消费者即时处理
type bufferPublisher struct {
	buffer *cache.PendingBuffer
	err    error
}

func (p *bufferPublisher) PublishIssuance(ctx context.Context, msg queue.IssuanceMessage) error {
	if p.err != nil {
		return p.err
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return p.buffer.Append(ctx, body)
}

func (p *bufferPublisher) Driver() string { return "buffer" }

func (p *bufferPublisher) Close() error { return nil }

type couponTestEnv struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	keys      cache.KeySpace
	gate      *cache.AdmissionGate
	buffer    *cache.PendingBuffer
	publisher *bufferPublisher
	coupons   *CouponService
	reconcile *CouponReconcileService
}

func setupCouponServiceTest(t *testing.T) *couponTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:coupon_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	keys := cache.NewKeySpace("")
	templateRepo := repository.NewCouponTemplateRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	templates := cache.NewTemplateCache(client, keys, templateRepo, cache.TemplateCacheOptions{})
	gate := cache.NewAdmissionGate(client, keys)
	buffer := cache.NewPendingBuffer(client, keys)
	publisher := &bufferPublisher{buffer: buffer}

	return &couponTestEnv{
		db:        db,
		mr:        mr,
		keys:      keys,
		gate:      gate,
		buffer:    buffer,
		publisher: publisher,
		coupons:   NewCouponService(templateRepo, couponRepo, templates, gate, publisher, time.Second),
		reconcile: NewCouponReconcileService(templateRepo, couponRepo, buffer, 0),
	}
}

func intPtr(v int) *int {
	return &v
}

func moneyPtr(v int64) *models.Money {
	m := models.MoneyFromInt(v)
	return &m
}

func (e *couponTestEnv) createTemplate(t *testing.T, partnerID uint, total *int, from, until time.Time) *models.CouponTemplate {
	t.Helper()
	template, err := e.coupons.CreateTemplate(context.Background(), partnerID, CreateCouponTemplateInput{
		Name:           "spring sale",
		CouponType:     constants.CouponTypeFixed,
		DiscountValue:  models.MoneyFromInt(3000),
		MinOrderAmount: models.MoneyFromInt(10000),
		TotalQuantity:  total,
		ValidFrom:      from,
		ValidUntil:     until,
	})
	if err != nil {
		t.Fatalf("create template failed: %v", err)
	}
	return template
}

func (e *couponTestEnv) issuedQuantity(t *testing.T, templateID uint) int {
	t.Helper()
	var template models.CouponTemplate
	if err := e.db.First(&template, templateID).Error; err != nil {
		t.Fatalf("load template failed: %v", err)
	}
	return template.IssuedQuantity
}

func (e *couponTestEnv) couponCount(t *testing.T, templateID uint) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&models.Coupon{}).Where("coupon_template_id = ?", templateID).Count(&count).Error; err != nil {
		t.Fatalf("count coupons failed: %v", err)
	}
	return count
}

func activeWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.Add(-time.Hour), now.Add(48 * time.Hour)
}

func TestCreateTemplateWarmsCache(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	template := env.createTemplate(t, 1, intPtr(5), from, until)

	if !env.mr.Exists(env.keys.Template(template.ID)) {
		t.Fatalf("template snapshot should be cached on create")
	}
	if ttl := env.mr.TTL(env.keys.Template(template.ID)); ttl != 24*time.Hour {
		t.Fatalf("active template ttl want 24h got %s", ttl)
	}
}

func TestCreateTemplateValidation(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	valid := CreateCouponTemplateInput{
		Name:          "ok",
		CouponType:    constants.CouponTypePercentage,
		DiscountValue: models.MoneyFromInt(10),
		ValidFrom:     from,
		ValidUntil:    until,
	}
	cases := []struct {
		name   string
		mutate func(in *CreateCouponTemplateInput)
		want   error
	}{
		{name: "blank_name", mutate: func(in *CreateCouponTemplateInput) { in.Name = "  " }, want: ErrInvalidInput},
		{name: "unknown_type", mutate: func(in *CreateCouponTemplateInput) { in.CouponType = "bogo" }, want: ErrCouponTemplateInvalid},
		{name: "zero_discount", mutate: func(in *CreateCouponTemplateInput) { in.DiscountValue = models.MoneyFromInt(0) }, want: ErrCouponTemplateInvalid},
		{name: "percentage_over_100", mutate: func(in *CreateCouponTemplateInput) { in.DiscountValue = models.MoneyFromInt(101) }, want: ErrCouponTemplateInvalid},
		{name: "zero_quantity", mutate: func(in *CreateCouponTemplateInput) { in.TotalQuantity = intPtr(0) }, want: ErrCouponTemplateInvalid},
		{name: "inverted_window", mutate: func(in *CreateCouponTemplateInput) { in.ValidFrom, in.ValidUntil = in.ValidUntil, in.ValidFrom }, want: ErrCouponTemplateInvalid},
		{name: "already_ended", mutate: func(in *CreateCouponTemplateInput) {
			in.ValidFrom = from.Add(-72 * time.Hour)
			in.ValidUntil = from.Add(-48 * time.Hour)
		}, want: ErrCouponTemplateInvalid},
		{name: "negative_max_discount", mutate: func(in *CreateCouponTemplateInput) { in.MaxDiscountAmount = moneyPtr(-1) }, want: ErrCouponTemplateInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			_, err := env.coupons.CreateTemplate(context.Background(), 1, input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v got %v", tc.want, err)
			}
		})
	}

	if _, err := env.coupons.CreateTemplate(context.Background(), 1, valid); err != nil {
		t.Fatalf("valid input should pass, got %v", err)
	}
}

func TestIssueAsyncQuotaEndToEnd(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	template := env.createTemplate(t, 1, intPtr(10), from, until)

	const users = 100
	errs := make(chan error, users)
	done := make(chan struct{})
	for i := 0; i < users; i++ {
		go func(idx int) {
			errs <- env.coupons.IssueAsync(context.Background(), 1, IssueCouponInput{
				TemplateID: template.ID,
				UserID:     fmt.Sprintf("user-%d", idx),
			})
		}(i)
	}
	admitted, rejected := 0, 0
	go func() {
		defer close(done)
		for i := 0; i < users; i++ {
			err := <-errs
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrCouponQuotaExceeded):
				rejected++
			default:
				t.Errorf("unexpected issue error: %v", err)
			}
		}
	}()
	<-done

	if admitted != 10 || rejected != 90 {
		t.Fatalf("want 10 admitted / 90 rejected, got %d / %d", admitted, rejected)
	}

	report, err := env.reconcile.ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Claimed != 10 || report.Inserted != 10 || report.FailedChunks != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := env.couponCount(t, template.ID); got != 10 {
		t.Fatalf("coupon rows want 10 got %d", got)
	}
	if got := env.issuedQuantity(t, template.ID); got != 10 {
		t.Fatalf("issued quantity want 10 got %d", got)
	}
}

func TestIssueAsyncDuplicateUser(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	template := env.createTemplate(t, 1, intPtr(10), from, until)
	input := IssueCouponInput{TemplateID: template.ID, UserID: "alice"}

	if err := env.coupons.IssueAsync(context.Background(), 1, input); err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	err := env.coupons.IssueAsync(context.Background(), 1, input)
	if !errors.Is(err, ErrCouponAlreadyIssued) {
		t.Fatalf("second issue want already issued, got %v", err)
	}
	claimed, _ := env.gate.Claimed(context.Background(), template.ID)
	if claimed != 1 {
		t.Fatalf("duplicate must not consume quota, claimed %d", claimed)
	}
}

func TestIssueAsyncRollsBackOnPublishFailure(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	template := env.createTemplate(t, 1, intPtr(1), from, until)
	input := IssueCouponInput{TemplateID: template.ID, UserID: "alice"}

	env.publisher.err = errors.New("broker down")
	err := env.coupons.IssueAsync(context.Background(), 1, input)
	if !errors.Is(err, ErrMessagingSystem) {
		t.Fatalf("want messaging error, got %v", err)
	}
	claimed, _ := env.gate.Claimed(context.Background(), template.ID)
	member, _ := env.mr.IsMember(env.keys.TemplateUsers(template.ID), "alice")
	if claimed != 0 || member {
		t.Fatalf("gate should be rolled back, claimed=%d member=%v", claimed, member)
	}

	env.publisher.err = nil
	if err := env.coupons.IssueAsync(context.Background(), 1, input); err != nil {
		t.Fatalf("retry after rollback should succeed, got %v", err)
	}
}

func TestIssueAsyncRejections(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	active := env.createTemplate(t, 1, nil, from, until)
	future := env.createTemplate(t, 1, nil, from.Add(72*time.Hour), until.Add(72*time.Hour))

	cases := []struct {
		name      string
		partnerID uint
		input     IssueCouponInput
		want      error
	}{
		{name: "blank_user", partnerID: 1, input: IssueCouponInput{TemplateID: active.ID, UserID: " "}, want: ErrInvalidInput},
		{name: "other_partner", partnerID: 2, input: IssueCouponInput{TemplateID: active.ID, UserID: "u"}, want: ErrForbidden},
		{name: "not_started", partnerID: 1, input: IssueCouponInput{TemplateID: future.ID, UserID: "u"}, want: ErrCouponNotInIssuePeriod},
		{name: "missing_template", partnerID: 1, input: IssueCouponInput{TemplateID: 9999, UserID: "u"}, want: ErrCouponTemplateNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := env.coupons.IssueAsync(context.Background(), tc.partnerID, tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v got %v", tc.want, err)
			}
		})
	}
	pending, _ := env.buffer.Pending(context.Background())
	if pending {
		t.Fatalf("rejected requests must not reach the buffer")
	}
}

func TestIssueDirect(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	template := env.createTemplate(t, 1, intPtr(2), from, until)

	coupon, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "alice"})
	if err != nil {
		t.Fatalf("direct issue failed: %v", err)
	}
	if coupon.Status != constants.CouponStatusAvailable || !coupon.ExpiredAt.Equal(template.ValidUntil) || len(coupon.Code) != 32 {
		t.Fatalf("unexpected coupon %+v", coupon)
	}

	if _, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "alice"}); !errors.Is(err, ErrCouponAlreadyIssued) {
		t.Fatalf("duplicate want already issued, got %v", err)
	}
	if _, err := env.coupons.IssueDirect(context.Background(), 2, IssueCouponInput{TemplateID: template.ID, UserID: "bob"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other partner want forbidden, got %v", err)
	}
	if _, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "bob"}); err != nil {
		t.Fatalf("second user failed: %v", err)
	}
	if _, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "carol"}); !errors.Is(err, ErrCouponQuotaExceeded) {
		t.Fatalf("third user want quota exceeded, got %v", err)
	}
	if got := env.issuedQuantity(t, template.ID); got != 2 {
		t.Fatalf("issued quantity want 2 got %d", got)
	}

	env.coupons.now = func() time.Time { return until.Add(time.Minute) }
	if _, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "dave"}); !errors.Is(err, ErrCouponNotInIssuePeriod) {
		t.Fatalf("after window want not in period, got %v", err)
	}
	if _, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: 9999, UserID: "dave"}); !errors.Is(err, ErrCouponTemplateNotFound) {
		t.Fatalf("missing template want not found, got %v", err)
	}
}

func TestMixedIssuePathsShareQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("direct_then_async", func(t *testing.T) {
		env := setupCouponServiceTest(t)
		from, until := activeWindow()
		template := env.createTemplate(t, 1, intPtr(3), from, until)

		for _, user := range []string{"alice", "bob", "carol"} {
			if _, err := env.coupons.IssueDirect(ctx, 1, IssueCouponInput{TemplateID: template.ID, UserID: user}); err != nil {
				t.Fatalf("direct issue %s failed: %v", user, err)
			}
		}
		for _, user := range []string{"dave", "erin", "frank"} {
			err := env.coupons.IssueAsync(ctx, 1, IssueCouponInput{TemplateID: template.ID, UserID: user})
			if !errors.Is(err, ErrCouponQuotaExceeded) {
				t.Fatalf("async issue %s want quota exceeded got %v", user, err)
			}
		}
		if _, err := env.reconcile.ReconcileOnce(ctx); err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		if rows, issued := env.couponCount(t, template.ID), env.issuedQuantity(t, template.ID); rows != 3 || issued != 3 {
			t.Fatalf("want 3 rows and issued 3, got rows=%d issued=%d", rows, issued)
		}
	})

	t.Run("async_then_direct", func(t *testing.T) {
		env := setupCouponServiceTest(t)
		from, until := activeWindow()
		template := env.createTemplate(t, 1, intPtr(3), from, until)

		for _, user := range []string{"alice", "bob"} {
			if err := env.coupons.IssueAsync(ctx, 1, IssueCouponInput{TemplateID: template.ID, UserID: user}); err != nil {
				t.Fatalf("async issue %s failed: %v", user, err)
			}
		}
		// 异步已占位但尚未入库的用户不能再走同步路径
		if _, err := env.coupons.IssueDirect(ctx, 1, IssueCouponInput{TemplateID: template.ID, UserID: "alice"}); !errors.Is(err, ErrCouponAlreadyIssued) {
			t.Fatalf("direct issue for pending user want already issued got %v", err)
		}
		if _, err := env.coupons.IssueDirect(ctx, 1, IssueCouponInput{TemplateID: template.ID, UserID: "carol"}); err != nil {
			t.Fatalf("direct issue carol failed: %v", err)
		}
		if _, err := env.coupons.IssueDirect(ctx, 1, IssueCouponInput{TemplateID: template.ID, UserID: "dave"}); !errors.Is(err, ErrCouponQuotaExceeded) {
			t.Fatalf("direct issue dave want quota exceeded got %v", err)
		}
		if _, err := env.reconcile.ReconcileOnce(ctx); err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		if rows, issued := env.couponCount(t, template.ID), env.issuedQuantity(t, template.ID); rows != 3 || issued != 3 {
			t.Fatalf("want 3 rows and issued 3, got rows=%d issued=%d", rows, issued)
		}
		claimed, err := env.gate.Claimed(ctx, template.ID)
		if err != nil || claimed != 3 {
			t.Fatalf("claimed want 3 got %d err=%v", claimed, err)
		}
	})
}

func TestUseCoupon(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	template := env.createTemplate(t, 1, nil, from, until)
	coupon, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	use := UseCouponInput{UserID: "alice", OrderID: "ORDER-1", OrderAmount: models.MoneyFromInt(20000)}

	t.Run("other_partner", func(t *testing.T) {
		if _, err := env.coupons.UseCoupon(2, coupon.Code, use); !errors.Is(err, ErrForbidden) {
			t.Fatalf("want forbidden got %v", err)
		}
	})
	t.Run("other_user", func(t *testing.T) {
		in := use
		in.UserID = "bob"
		if _, err := env.coupons.UseCoupon(1, coupon.Code, in); !errors.Is(err, ErrCouponOwnerMismatch) {
			t.Fatalf("want owner mismatch got %v", err)
		}
	})
	t.Run("below_minimum", func(t *testing.T) {
		in := use
		in.OrderAmount = models.MoneyFromInt(5000)
		if _, err := env.coupons.UseCoupon(1, coupon.Code, in); !errors.Is(err, ErrCouponMinOrderAmount) {
			t.Fatalf("want min amount got %v", err)
		}
	})
	t.Run("unknown_code", func(t *testing.T) {
		if _, err := env.coupons.UseCoupon(1, "NOPE", use); !errors.Is(err, ErrCouponNotFound) {
			t.Fatalf("want not found got %v", err)
		}
	})
	t.Run("success", func(t *testing.T) {
		result, err := env.coupons.UseCoupon(1, coupon.Code, use)
		if err != nil {
			t.Fatalf("use failed: %v", err)
		}
		if result.Coupon.Status != constants.CouponStatusUsed || result.DiscountAmount.String() != "3000.00" {
			t.Fatalf("unexpected use result %+v discount=%s", result.Coupon, result.DiscountAmount)
		}
	})
	t.Run("already_used", func(t *testing.T) {
		if _, err := env.coupons.UseCoupon(1, coupon.Code, use); !errors.Is(err, ErrCouponAlreadyUsed) {
			t.Fatalf("want already used got %v", err)
		}
	})
	t.Run("expired", func(t *testing.T) {
		other, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: template.ID, UserID: "bob"})
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		env.coupons.now = func() time.Time { return until.Add(time.Hour) }
		defer func() { env.coupons.now = time.Now }()
		in := use
		in.UserID = "bob"
		if _, err := env.coupons.UseCoupon(1, other.Code, in); !errors.Is(err, ErrCouponExpired) {
			t.Fatalf("want expired got %v", err)
		}
	})
}

func TestCalculateDiscount(t *testing.T) {
	cases := []struct {
		name     string
		template *models.CouponTemplate
		order    int64
		want     string
	}{
		{name: "fixed", template: &models.CouponTemplate{CouponType: constants.CouponTypeFixed, DiscountValue: models.MoneyFromInt(30)}, order: 100, want: "30.00"},
		{name: "fixed_above_order", template: &models.CouponTemplate{CouponType: constants.CouponTypeFixed, DiscountValue: models.MoneyFromInt(300)}, order: 100, want: "100.00"},
		{name: "percentage", template: &models.CouponTemplate{CouponType: constants.CouponTypePercentage, DiscountValue: models.MoneyFromInt(15)}, order: 200, want: "30.00"},
		{name: "percentage_capped", template: &models.CouponTemplate{CouponType: constants.CouponTypePercentage, DiscountValue: models.MoneyFromInt(50), MaxDiscountAmount: moneyPtr(40)}, order: 200, want: "40.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := calculateDiscount(tc.template, models.MoneyFromInt(tc.order)).String(); got != tc.want {
				t.Fatalf("discount want %s got %s", tc.want, got)
			}
		})
	}
}

func TestListCouponsAndAdmissionStatus(t *testing.T) {
	env := setupCouponServiceTest(t)
	from, until := activeWindow()
	first := env.createTemplate(t, 1, intPtr(3), from, until)
	second := env.createTemplate(t, 1, nil, from, until)
	for _, tpl := range []*models.CouponTemplate{first, second} {
		if _, err := env.coupons.IssueDirect(context.Background(), 1, IssueCouponInput{TemplateID: tpl.ID, UserID: "alice"}); err != nil {
			t.Fatalf("issue failed: %v", err)
		}
	}

	views, total, err := env.coupons.ListCoupons(1, "alice", 1, 20)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 || len(views) != 2 || views[0].TemplateName != "spring sale" {
		t.Fatalf("unexpected list result total=%d views=%+v", total, views)
	}
	if _, total, _ := env.coupons.ListCoupons(2, "alice", 1, 20); total != 0 {
		t.Fatalf("other partner must not see coupons, total=%d", total)
	}

	if err := env.coupons.IssueAsync(context.Background(), 1, IssueCouponInput{TemplateID: first.ID, UserID: "bob"}); err != nil {
		t.Fatalf("async issue failed: %v", err)
	}
	status, err := env.coupons.AdmissionStatus(context.Background(), 1, first.ID)
	if err != nil {
		t.Fatalf("admission status failed: %v", err)
	}
	// 同步发放同样计入准入计数
	if status.Claimed != 2 || status.Remaining == nil || *status.Remaining != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := env.coupons.AdmissionStatus(context.Background(), 2, first.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other partner want forbidden got %v", err)
	}
}
