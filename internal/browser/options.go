// internal/browser/options.go
package browser

import (
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/inputs"
)

// flag is a single Chrome command line switch. Keeping the list in this form
// lets tests inspect it; chromedp options are opaque closures.
type flag struct {
	Name  string
	Value interface{}
}

// allocatorFlags assembles the switches for one browser instance. Later
// entries override earlier ones with the same name.
func allocatorFlags(cfg config.BrowserConfig, proxy *inputs.Proxy) []flag {
	flags := []flag{
		{"headless", cfg.Headless},
		{"disable-gpu", true},
		{"remote-debugging-port", "0"},
		// Removes the navigator.webdriver hint that the automation switch would add.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
	}

	if runtime.GOOS == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}

	if cfg.Language != "" {
		flags = append(flags, flag{"lang", cfg.Language})
	}

	if cfg.ExtensionDir != "" {
		dir := strings.ReplaceAll(cfg.ExtensionDir, `\`, "/")
		flags = append(flags,
			flag{"disable-extensions", false},
			flag{"load-extension", dir},
		)
	}

	if proxy != nil {
		flags = append(flags, flag{"proxy-server", proxy.Server()})
	}

	// User supplied switches come last so they win.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, flag{name, parts[1]})
		} else {
			flags = append(flags, flag{name, true})
		}
	}

	return flags
}

// AllocatorOptions converts the browser configuration into chromedp exec
// allocator options, starting from chromedp's defaults.
func AllocatorOptions(cfg config.BrowserConfig, proxy *inputs.Proxy) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, f := range allocatorFlags(cfg, proxy) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}
