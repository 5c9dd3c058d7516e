package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
)

var (
	dryRun         = flag.Bool("dry-run", true, "Dry run mode, don't actually write changes")
	expireSubs     = flag.Bool("expire-subs", true, "Expire subscriptions past their paid period")
	unfreezeOrphan = flag.Bool("unfreeze-orphans", true, "Unfreeze grants whose owner has no active subscription change in flight")
	checkLedger    = flag.Bool("check-ledger", true, "Report ledger inconsistencies")
)

func main() {
	flag.Parse()

	log.Println("🧾 Starting ledger reconciliation...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := connectDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	expiredCount := 0
	unfrozenCount := 0
	issueCount := 0

	// 1. 过期超期订阅（网关漏发 expired 事件的兜底）
	if *expireSubs {
		log.Println("\n⏰ Expiring overdue subscriptions...")
		expiredCount = expireOverdue(db, *dryRun)
	}

	// 2. 解冻无主冻结积分包（取消后残留的冻结）
	if *unfreezeOrphan {
		log.Println("\n🧊 Unfreezing orphaned frozen grants...")
		unfrozenCount = unfreezeOrphans(db, *dryRun)
	}

	// 3. 账本一致性检查
	if *checkLedger {
		log.Println("\n🔍 Checking ledger consistency...")
		issueCount = reportLedgerIssues(db)
	}

	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Reconciliation Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Subscriptions expired: %d", expiredCount)
	log.Printf("Grants unfrozen: %d", unfrozenCount)
	log.Printf("Ledger issues found: %d", issueCount)
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - No changes were written")
		log.Println("   Run with -dry-run=false to apply changes")
	} else {
		log.Println("\n✅ Reconciliation completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// expireOverdue 把超过付费周期仍为 active/cancelled 的订阅标记为 expired
func expireOverdue(db *gorm.DB, dryRun bool) int {
	var subs []model.Subscription
	err := db.Where("status IN ? AND expires_at < ?",
		[]string{model.SubStatusActive, model.SubStatusCancelled}, time.Now()).
		Find(&subs).Error
	if err != nil {
		log.Printf("Failed to query subscriptions: %v", err)
		return 0
	}

	for _, sub := range subs {
		log.Printf("  - subscription %d (user %d, %s/%s) expired %s ago",
			sub.ID, sub.UserID, sub.PlanTier, sub.BillingCycle,
			time.Since(sub.ExpiresAt).Round(time.Hour))

		if !dryRun {
			if err := db.Model(&model.Subscription{}).
				Where("id = ?", sub.ID).
				Update("status", model.SubStatusExpired).Error; err != nil {
				log.Printf("    ❌ Failed to expire: %v", err)
			}
		}
	}

	log.Printf("Found %d overdue subscriptions", len(subs))
	return len(subs)
}

// unfreezeOrphans 解冻所有者已无 pending 订阅变更的冻结积分包。
// 冻结只应在套餐切换确认期间存在，切换完成或失败后都应解除。
func unfreezeOrphans(db *gorm.DB, dryRun bool) int {
	var grants []model.CreditTransaction
	err := db.Where("is_frozen = ? AND frozen_until < ?", true, time.Now()).
		Find(&grants).Error
	if err != nil {
		log.Printf("Failed to query frozen grants: %v", err)
		return 0
	}

	count := 0
	for _, g := range grants {
		log.Printf("  - grant %d (user %d, remaining %d) frozen until %s",
			g.ID, g.UserID, g.RemainingAmount, g.FrozenUntil.Format(time.RFC3339))

		if !dryRun {
			if err := db.Model(&model.CreditTransaction{}).
				Where("id = ?", g.ID).
				Update("is_frozen", false).Error; err != nil {
				log.Printf("    ❌ Failed to unfreeze: %v", err)
				continue
			}
		}
		count++
	}

	log.Printf("Found %d orphaned frozen grants", count)
	return count
}

// reportLedgerIssues 只读检查：发现可疑账目但不修改
func reportLedgerIssues(db *gorm.DB) int {
	issues := 0

	// 消费记录必须 remaining_amount = 0
	var badConsumption int64
	db.Model(&model.CreditTransaction{}).
		Where("amount < 0 AND remaining_amount != 0").
		Count(&badConsumption)
	if badConsumption > 0 {
		log.Printf("  ⚠️  %d consumption records with non-zero remaining_amount", badConsumption)
		issues += int(badConsumption)
	}

	// 充值包剩余不能超过发放量或为负
	var badGrants int64
	db.Model(&model.CreditTransaction{}).
		Where("amount > 0 AND (remaining_amount > amount OR remaining_amount < 0)").
		Count(&badGrants)
	if badGrants > 0 {
		log.Printf("  ⚠️  %d grants with remaining_amount out of range", badGrants)
		issues += int(badGrants)
	}

	// pending 充值包必须有激活时间
	var badPending int64
	db.Model(&model.CreditTransaction{}).
		Where("is_pending = ? AND activate_at IS NULL", true).
		Count(&badPending)
	if badPending > 0 {
		log.Printf("  ⚠️  %d pending grants without activate_at", badPending)
		issues += int(badPending)
	}

	if issues == 0 {
		log.Println("  Ledger is consistent")
	}
	return issues
}

// connectDB 连接数据库
func connectDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}
