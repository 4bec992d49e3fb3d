// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/inputs"
)

// Page is a single isolated browser instance with one tab.
type Page interface {
	// Context is the context browser actions must derive from.
	Context() context.Context
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Close shuts the browser down. It is safe to call more than once.
	Close()
}

// Launcher starts a browser routed through proxy, or directly when proxy is nil.
type Launcher interface {
	Launch(ctx context.Context, proxy *inputs.Proxy) (Page, error)
}

// ChromeLauncher launches a fresh Chrome process per page through chromedp.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewChromeLauncher creates a launcher for the given browser settings.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("chrome")}
}

// Launch starts Chrome and opens a blank tab. When the proxy carries
// credentials, auth challenges are answered through the Fetch domain.
func (l *ChromeLauncher) Launch(ctx context.Context, proxy *inputs.Proxy) (Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(l.cfg, proxy)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(l.logger.Sugar().Debugf))

	p := &chromePage{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	var actions []chromedp.Action
	if proxy != nil && proxy.HasAuth() {
		listenForProxyAuth(tabCtx, *proxy, l.logger)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	// The first Run starts the browser process.
	actions = append(actions, chromedp.Navigate("about:blank"))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return p, nil
}

// listenForProxyAuth resumes paused requests and answers proxy auth
// challenges with the proxy's credentials.
func listenForProxyAuth(ctx context.Context, proxy inputs.Proxy, logger *zap.Logger) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
					logger.Debug("Failed to continue paused request", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil {
					logger.Debug("Failed to answer proxy auth challenge", zap.Error(err))
				}
			}()
		}
	})
}

type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (p *chromePage) Context() context.Context { return p.ctx }

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) Close() {
	p.closeOnce.Do(p.cancel)
}
