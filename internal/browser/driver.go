// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/inputs"
)

// TargetURL substitutes the query-escaped item for every "{item}" in template.
func TargetURL(template, item string) string {
	return strings.ReplaceAll(template, "{item}", url.QueryEscape(item))
}

// Driver runs the page probe for one work item at a time. It is safe for
// concurrent use; every Probe gets its own browser.
type Driver struct {
	probe    config.ProbeConfig
	launcher Launcher
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewDriver creates a driver. Browser launches are paced by the launch rate in
// browserCfg so a large group does not start every Chrome at the same instant.
func NewDriver(browserCfg config.BrowserConfig, probeCfg config.ProbeConfig, launcher Launcher, logger *zap.Logger) (*Driver, error) {
	if launcher == nil {
		return nil, errors.New("launcher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := probeCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid probe configuration: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if browserCfg.LaunchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(browserCfg.LaunchRate), max(browserCfg.LaunchBurst, 1))
	}

	return &Driver{
		probe:    probeCfg,
		launcher: launcher,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "browser_driver")),
	}, nil
}

// Probe opens the item's target URL, through proxy when given, and waits for
// the browser to land on the success prefix. The browser is always closed.
func (d *Driver) Probe(ctx context.Context, item string, proxy *inputs.Proxy) error {
	logger := d.logger.With(zap.String("item", item))
	if proxy != nil {
		logger = logger.With(zap.Stringer("proxy", proxy))
	} else {
		logger.Debug("No proxy selected")
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for launch slot: %w", err)
	}

	page, err := d.launcher.Launch(ctx, proxy)
	if err != nil {
		return err
	}
	defer page.Close()

	target := TargetURL(d.probe.TargetTemplate, item)
	navCtx := page.Context()
	var cancel context.CancelFunc = func() {}
	if d.probe.NavigationTimeout > 0 {
		navCtx, cancel = context.WithTimeout(navCtx, d.probe.NavigationTimeout)
	}
	err = page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	logger.Debug("Navigated to target", zap.String("url", target))

	final, err := WaitForURLPrefix(page.Context(), page.CurrentURL, d.probe.SuccessPrefix, d.probe.SuccessTimeout, d.probe.PollInterval)
	if err != nil {
		logger.Warn("Page did not land on the expected URL", zap.String("current_url", final), zap.Error(err))
		return err
	}

	logger.Info("Success URL reached", zap.String("url", final), zap.Duration("success_timeout", d.probe.SuccessTimeout))
	return nil
}
