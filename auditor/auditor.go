// Package auditor checks cross-record invariants of the ledger's database
// mirror: non-negative amounts, a monotone reward index per pool, staker
// totals matching their pool, and unlock consumption never exceeding the
// accrued allowance. Violations raise a webhook alert.
package auditor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/synthlabs/synth-ledger/common/logging"
	"github.com/synthlabs/synth-ledger/database/models/synth"
	"github.com/synthlabs/synth-ledger/utils/http"
)

type Auditor struct {
	OnViolation func(context.Context, string) error

	config    *Config
	db        *gorm.DB
	logger    logging.Logger
	webhook   http.IHttpClient
	lastIndex map[string]decimal.Decimal
}

func NewAuditor(config *Config, logger logging.Logger) (*Auditor, error) {
	conf := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		Logger: glogger.Default.LogMode(glogger.Silent), // silent orm logs
	}
	db, err := gorm.Open(postgres.Open(config.LedgerDB), conf)
	if err != nil {
		return nil, err
	}
	a := &Auditor{
		config:    config,
		db:        db,
		logger:    logger,
		lastIndex: make(map[string]decimal.Decimal),
	}
	if config.AlertWebhook != "" {
		a.webhook = http.NewHttpClient(http.DefaultTransport, logger, config.AlertWebhook)
	}
	return a, nil
}

func (a *Auditor) Run(ctx context.Context) error {
	interval := a.config.RoundInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		violations, err := a.RunOnce(ctx)
		if err != nil {
			a.logger.Warn("error occurs while auditing: %v", err)
		}
		for _, v := range violations {
			a.alert(ctx, v)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunOnce runs every check against the current mirror and returns the
// violations found.
func (a *Auditor) RunOnce(ctx context.Context) ([]string, error) {
	var violations []string
	checks := []func() ([]string, error){
		a.checkPositions,
		a.checkDeposits,
		a.checkPools,
	}
	for _, check := range checks {
		found, err := check()
		if err != nil {
			return violations, err
		}
		violations = append(violations, found...)
	}
	if len(violations) == 0 {
		a.logger.Info("audit round clean")
	}
	return violations, nil
}

func (a *Auditor) checkPositions() ([]string, error) {
	var positions []*synth.Position
	if err := a.db.Find(&positions).Error; err != nil {
		return nil, err
	}
	var violations []string
	for _, p := range positions {
		if p.CollateralAmount.IsNegative() || p.SyntheticAmount.IsNegative() {
			violations = append(violations, fmt.Sprintf(
				"position %d has negative amounts: collateral=%s synthetic=%s",
				p.ID, p.CollateralAmount, p.SyntheticAmount))
		}
	}
	return violations, nil
}

func (a *Auditor) checkDeposits() ([]string, error) {
	var deposits []*synth.Deposit
	if err := a.db.Find(&deposits).Error; err != nil {
		return nil, err
	}
	var violations []string
	for _, d := range deposits {
		if d.Amount.IsNegative() || d.Consumed.IsNegative() {
			violations = append(violations, fmt.Sprintf(
				"deposit (%s, %s) has negative amounts: amount=%s consumed=%s",
				d.Account, d.Asset, d.Amount, d.Consumed))
		}
		if d.Floor.GreaterThan(d.Amount) {
			violations = append(violations, fmt.Sprintf(
				"deposit (%s, %s) unlock floor exceeds principal: floor=%s amount=%s",
				d.Account, d.Asset, d.Floor, d.Amount))
		}
	}
	return violations, nil
}

func (a *Auditor) checkPools() ([]string, error) {
	var pools []*synth.StakePool
	if err := a.db.Find(&pools).Error; err != nil {
		return nil, err
	}
	var stakers []*synth.StakerPosition
	if err := a.db.Find(&stakers).Error; err != nil {
		return nil, err
	}
	staked := make(map[string]decimal.Decimal)
	for _, st := range stakers {
		staked[st.Asset] = staked[st.Asset].Add(st.StakingAmount)
	}
	var violations []string
	for _, p := range pools {
		if p.TotalStaked.IsNegative() || p.PendingReward.IsNegative() {
			violations = append(violations, fmt.Sprintf(
				"pool %s has negative amounts: totalStaked=%s pendingReward=%s",
				p.Asset, p.TotalStaked, p.PendingReward))
		}
		if last, ok := a.lastIndex[p.Asset]; ok && p.RewardIndex.LessThan(last) {
			violations = append(violations, fmt.Sprintf(
				"pool %s reward index went backwards: last=%s now=%s",
				p.Asset, last, p.RewardIndex))
		}
		a.lastIndex[p.Asset] = p.RewardIndex
		if sum, ok := staked[p.Asset]; ok && !sum.Equal(p.TotalStaked) {
			violations = append(violations, fmt.Sprintf(
				"pool %s staker sum mismatch: pool=%s stakers=%s",
				p.Asset, p.TotalStaked, sum))
		}
	}
	return violations, nil
}

func (a *Auditor) alert(ctx context.Context, violation string) {
	a.logger.Error("audit violation: %s", violation)
	if a.OnViolation != nil {
		if err := a.OnViolation(ctx, violation); err != nil {
			a.logger.Warn("violation hook failed: %v", err)
		}
	}
	if a.webhook != nil {
		err, code, _ := a.webhook.Post(nil, map[string]string{"text": violation}, nil)
		if err != nil || code >= 300 {
			a.logger.Warn("webhook alert failed: err=%v code=%d", err, code)
		}
	}
}
