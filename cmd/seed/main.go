package main

import (
	"errors"
	"flag"
	"time"

	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	var (
		partnerName string
		apiKey      string
		quantity    int
	)
	flag.StringVar(&partnerName, "partner", "demo-partner", "演示合作方名称")
	flag.StringVar(&apiKey, "api-key", "demo-api-key", "演示合作方接入密钥")
	flag.IntVar(&quantity, "quantity", 100, "演示模板发放总量")
	flag.Parse()

	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, false); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 添加合作方
	if err := models.InitDefaultPartner(partnerName, apiKey); err != nil {
		stdLog.Fatalf("Failed to create partner: %v", err)
	}
	var partner models.Partner
	if err := models.DB.Where("api_key = ?", apiKey).First(&partner).Error; err != nil {
		stdLog.Fatalf("Failed to load partner: %v", err)
	}
	stdLog.Printf("Partner ready: id=%d name=%s", partner.ID, partner.Name)

	// 添加演示模板
	now := time.Now().UTC()
	maxDiscount := models.NewMoneyFromDecimal(decimal.NewFromInt(50))
	templates := []models.CouponTemplate{
		{
			PartnerID:      partner.ID,
			Name:           "Flash sale 3000 off",
			CouponType:     constants.CouponTypeFixed,
			DiscountValue:  models.NewMoneyFromDecimal(decimal.NewFromInt(3000)),
			MinOrderAmount: models.NewMoneyFromDecimal(decimal.NewFromInt(10000)),
			TotalQuantity:  &quantity,
			ValidFrom:      now,
			ValidUntil:     now.Add(7 * 24 * time.Hour),
		},
		{
			PartnerID:         partner.ID,
			Name:              "Welcome 10%",
			CouponType:        constants.CouponTypePercentage,
			DiscountValue:     models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
			MaxDiscountAmount: &maxDiscount,
			MinOrderAmount:    models.NewMoneyFromDecimal(decimal.Zero),
			ValidFrom:         now,
			ValidUntil:        now.Add(30 * 24 * time.Hour),
		},
	}

	for _, tpl := range templates {
		var existing models.CouponTemplate
		err := models.DB.Where("partner_id = ? AND name = ?", tpl.PartnerID, tpl.Name).First(&existing).Error
		if err == nil {
			stdLog.Printf("Coupon template already exists: id=%d name=%s", existing.ID, existing.Name)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			stdLog.Printf("Failed to query coupon template %s: %v", tpl.Name, err)
			continue
		}
		tpl.Touch(now)
		if err := models.DB.Create(&tpl).Error; err != nil {
			stdLog.Printf("Failed to create coupon template %s: %v", tpl.Name, err)
			continue
		}
		stdLog.Printf("Created coupon template: id=%d name=%s", tpl.ID, tpl.Name)
	}

	stdLog.Printf("Seed completed. Use header X-API-KEY: %s", apiKey)
}
