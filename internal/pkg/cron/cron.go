package cron

import (
	"log"
	"time"

	"github.com/qs3c/artgen_go_server/internal/service"
)

// Service 订阅生命周期的定时驱动：
// 每日把到期的未激活月份转为实际充值、激活到期的 pending 订阅，
// 每小时兜底过期未收到网关通知的订阅。
type Service struct {
	subscriptionService *service.SubscriptionService
	stopChan            chan struct{}
}

func NewService(subscriptionService *service.SubscriptionService) *Service {
	return &Service{
		subscriptionService: subscriptionService,
		stopChan:            make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runDailyActivation()
	go s.runHourlyExpiry()
	log.Println("Cron service started (credit activation + subscription expiry)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runDailyActivation 每日 UTC 零点执行激活任务
func (s *Service) runDailyActivation() {
	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.runActivations()
			timer.Reset(24 * time.Hour)
		}
	}
}

// runHourlyExpiry 每小时兜底一次订阅过期
func (s *Service) runHourlyExpiry() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runExpiry()
		}
	}
}

func (s *Service) runActivations() {
	log.Println("Starting daily credit activation...")
	if err := s.subscriptionService.ActivateMonthlyCredits(); err != nil {
		log.Printf("Failed to activate monthly credits: %v", err)
	}
	if err := s.subscriptionService.ActivatePendingSubscriptions(); err != nil {
		log.Printf("Failed to activate pending subscriptions: %v", err)
	}
	log.Println("Daily credit activation completed")
}

func (s *Service) runExpiry() {
	n, err := s.subscriptionService.ExpireOverdueSubscriptions()
	if err != nil {
		log.Printf("Failed to expire overdue subscriptions: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Expired %d overdue subscriptions", n)
	}
}

// RunNow 立即执行一轮激活和过期兜底（用于测试或手动触发）
func (s *Service) RunNow() {
	s.runActivations()
	s.runExpiry()
}
