// Package reconcile keeps stored payment token statuses in step with the QR gateway.
package reconcile

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/payment"
	"github.com/topasig/PolicyBroker/internal/settings"
)

const (
	defaultPollInterval   = time.Minute
	defaultRequestTimeout = 20 * time.Second
	maxConcurrentRequests = 10
)

// TokenLister yields tokens awaiting payment confirmation.
type TokenLister interface {
	ListActive(ctx context.Context) ([]models.PaymentToken, error)
}

// TokenReconciler polls the gateway for one token and stores the answer.
type TokenReconciler interface {
	ReconcileToken(ctx context.Context, token *models.PaymentToken, now time.Time) (payment.Result, error)
}

// Report counts the outcomes of one sweep.
type Report struct {
	Updated    int `json:"updated"`
	NotChanged int `json:"not_changed"`
	Failed     int `json:"failed"`
}

// Total is the number of tokens examined.
func (r Report) Total() int { return r.Updated + r.NotChanged + r.Failed }

// Poller periodically reconciles every Active payment token.
type Poller struct {
	tokens         TokenLister
	reconciler     TokenReconciler
	interval       time.Duration
	maxConcurrency int
	requestTimeout time.Duration
	now            func() time.Time
}

// NewPoller constructs a reconciliation poller. interval and maxConcurrency are
// fallbacks for the RECONCILE_INTERVAL_SECONDS and RECONCILE_MAX_CONCURRENCY settings.
func NewPoller(tokens TokenLister, reconciler TokenReconciler, interval time.Duration, maxConcurrency int) *Poller {
	if tokens == nil || reconciler == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Poller{
		tokens:         tokens,
		reconciler:     reconciler,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		requestTimeout: defaultRequestTimeout,
		now:            time.Now,
	}
}

// Start launches the polling loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
	log.Infof("reconcile poller started (interval=%s)", p.interval)
}

func (p *Poller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.Sweep(ctx)
		if ctx.Err() != nil {
			return
		}
		interval, _ := p.resolvePollConfig()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// Sweep reconciles all Active tokens once and logs the counts.
// A failure on one token never stops the others.
func (p *Poller) Sweep(ctx context.Context) Report {
	var report Report
	if p == nil {
		return report
	}
	_, maxConcurrency := p.resolvePollConfig()

	tokens, errList := p.tokens.ListActive(ctx)
	if errList != nil {
		log.WithError(errList).Warn("reconcile poller: list active tokens failed")
		return report
	}
	if len(tokens) == 0 {
		return report
	}

	sem := make(chan struct{}, maxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	now := p.now()

	for i := range tokens {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return report
		}

		wg.Add(1)
		token := &tokens[i]
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
			defer cancel()
			result, errReconcile := p.reconciler.ReconcileToken(reqCtx, token, now)
			if errReconcile != nil {
				log.WithError(errReconcile).Debugf("reconcile poller: token %s not reconciled", token.UUID)
				result = payment.ResultFailed
			}

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case payment.ResultUpdated:
				report.Updated++
			case payment.ResultNotChanged:
				report.NotChanged++
			default:
				report.Failed++
			}
		}()
	}
	wg.Wait()

	log.WithFields(log.Fields{
		"updated":     report.Updated,
		"not_changed": report.NotChanged,
		"failed":      report.Failed,
	}).Info("reconcile poller: sweep finished")
	return report
}

func (p *Poller) resolvePollConfig() (time.Duration, int) {
	interval := settings.Duration(settings.ReconcileIntervalSecondsKey, time.Second, p.interval)
	maxConcurrency := settings.Int(settings.ReconcileMaxConcurrencyKey, p.maxConcurrency)
	if maxConcurrency > maxConcurrentRequests {
		maxConcurrency = maxConcurrentRequests
	}
	return interval, maxConcurrency
}
