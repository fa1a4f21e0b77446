// Package keepalive pings the public health URL so free-tier hosts do not
// idle the service out.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Pinger struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// Run pings until ctx ends. It returns immediately when URL is empty.
func (p *Pinger) Run(ctx context.Context) {
	if p.URL == "" {
		return
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 14 * time.Minute
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("keep-alive started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil {
				logger.Warn("keep-alive ping failed", zap.Error(err))
				continue
			}
			logger.Debug("keep-alive ping ok")
		}
	}
}

func (p *Pinger) Ping(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
