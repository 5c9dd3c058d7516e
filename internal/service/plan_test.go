package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qs3c/artgen_go_server/internal/model"
)

func TestDeterminePlanAction(t *testing.T) {
	tests := []struct {
		name     string
		current  *model.Subscription
		newTier  string
		newCycle string
		want     string
	}{
		{
			name:     "no current subscription",
			current:  nil,
			newTier:  model.PlanBasic,
			newCycle: model.CycleMonthly,
			want:     PlanActionNew,
		},
		{
			name:     "same tier same cycle",
			current:  &model.Subscription{PlanTier: model.PlanPro, BillingCycle: model.CycleMonthly},
			newTier:  model.PlanPro,
			newCycle: model.CycleMonthly,
			want:     PlanActionRenewal,
		},
		{
			name:     "basic to pro",
			current:  &model.Subscription{PlanTier: model.PlanBasic, BillingCycle: model.CycleMonthly},
			newTier:  model.PlanPro,
			newCycle: model.CycleMonthly,
			want:     PlanActionUpgrade,
		},
		{
			name:     "max to basic",
			current:  &model.Subscription{PlanTier: model.PlanMax, BillingCycle: model.CycleYearly},
			newTier:  model.PlanBasic,
			newCycle: model.CycleYearly,
			want:     PlanActionDowngrade,
		},
		{
			name:     "same tier cycle switch",
			current:  &model.Subscription{PlanTier: model.PlanPro, BillingCycle: model.CycleMonthly},
			newTier:  model.PlanPro,
			newCycle: model.CycleYearly,
			want:     PlanActionUpgrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeterminePlanAction(tt.current, tt.newTier, tt.newCycle))
		})
	}
}

func TestCycleDays(t *testing.T) {
	assert.Equal(t, 30, CycleDays(model.CycleMonthly))
	assert.Equal(t, 365, CycleDays(model.CycleYearly))
	assert.Equal(t, 30, CycleDays("unknown"))
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Now()

	sub := &model.Subscription{ExpiresAt: now.Add(time.Hour)}
	assert.InDelta(t, 3600, RemainingSeconds(sub, now), 1)

	expired := &model.Subscription{ExpiresAt: now.Add(-time.Hour)}
	assert.Zero(t, RemainingSeconds(expired, now))
}
