package job

import (
	"context"
	"log"
	"time"

	"msmeconnect/internal/config"
	"msmeconnect/internal/infrastructure/metrics"
	"msmeconnect/internal/repository"
	"msmeconnect/internal/service"
	"msmeconnect/pkg/money"

	"gorm.io/gorm"
)

// ReconcileJob 定期核对每个账户的余额与账本分录之和
type ReconcileJob struct {
	ledgerService *service.LedgerService
	accountRepo   *repository.AccountRepository
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewReconcileJob(db *gorm.DB, ledger *service.LedgerService, cfg *config.Config) *ReconcileJob {
	interval := time.Duration(cfg.Business.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileJob{
		ledgerService: ledger,
		accountRepo:   repository.NewAccountRepository(db),
		stopCh:        make(chan struct{}),
		interval:      interval,
		batchSize:     200,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Println("[ReconcileJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileAll(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// reconcileAll 返回不一致的账户数
func (j *ReconcileJob) reconcileAll(ctx context.Context) int {
	var afterID int64
	mismatches := 0

	for {
		accounts, err := j.accountRepo.ListAfter(ctx, afterID, j.batchSize)
		if err != nil {
			log.Printf("[ReconcileJob] 查询账户失败: %v", err)
			return mismatches
		}

		for _, account := range accounts {
			afterID = account.ID
			result, err := j.ledgerService.Reconcile(ctx, account.UserID)
			if err != nil {
				log.Printf("[ReconcileJob] 对账失败: userID=%d, err=%v", account.UserID, err)
				continue
			}
			if !result.Consistent {
				mismatches++
				log.Printf("[ReconcileJob] 余额与流水不一致: userID=%d, balance=%s, ledgerSum=%s",
					result.UserID, money.FormatMinor(result.Balance), money.FormatMinor(result.LedgerSum))
			}
		}

		if len(accounts) < j.batchSize {
			break
		}
	}

	metrics.ReconcileMismatches.Set(float64(mismatches))
	if mismatches > 0 {
		log.Printf("[ReconcileJob] 本轮发现 %d 个不一致账户", mismatches)
	}
	return mismatches
}

// StaleRedemptionJob 报告长时间未处理的提现单，只告警不处理
type StaleRedemptionJob struct {
	redemptionRepo *repository.RedemptionRepository
	threshold      time.Duration
	stopCh         chan struct{}
	interval       time.Duration
	batchSize      int
}

func NewStaleRedemptionJob(db *gorm.DB, cfg *config.Config) *StaleRedemptionJob {
	threshold := time.Duration(cfg.Business.StaleRedemptionHours) * time.Hour
	if threshold <= 0 {
		threshold = 48 * time.Hour
	}
	return &StaleRedemptionJob{
		redemptionRepo: repository.NewRedemptionRepository(db),
		threshold:      threshold,
		stopCh:         make(chan struct{}),
		interval:       10 * time.Minute,
		batchSize:      20,
	}
}

func (j *StaleRedemptionJob) Start(ctx context.Context) {
	log.Println("[StaleRedemptionJob] 提现超时巡检启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StaleRedemptionJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StaleRedemptionJob] 任务停止")
			return
		case <-ticker.C:
			j.reportStale(ctx)
		}
	}
}

func (j *StaleRedemptionJob) Stop() {
	close(j.stopCh)
}

func (j *StaleRedemptionJob) reportStale(ctx context.Context) int64 {
	before := time.Now().Add(-j.threshold)

	count, err := j.redemptionRepo.CountPendingBefore(ctx, before)
	if err != nil {
		log.Printf("[StaleRedemptionJob] 统计超时提现单失败: %v", err)
		return 0
	}
	metrics.StaleRedemptions.Set(float64(count))
	if count == 0 {
		return 0
	}

	log.Printf("[StaleRedemptionJob] 发现 %d 个超过 %s 未处理的提现单", count, j.threshold)

	reqs, err := j.redemptionRepo.ListPendingBefore(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[StaleRedemptionJob] 查询超时提现单失败: %v", err)
		return count
	}
	for _, r := range reqs {
		log.Printf("[StaleRedemptionJob] 待处理: requestNo=%s, userID=%d, amount=%s, createdAt=%s",
			r.RequestNo, r.UserID, money.FormatMinor(r.Amount), r.CreatedAt.Format(time.RFC3339))
	}
	return count
}
