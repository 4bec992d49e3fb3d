// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchrun/internal/browser"
	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/inputs"
	"github.com/xkilldash9x/batchrun/internal/observability"
	"github.com/xkilldash9x/batchrun/internal/results"
	"github.com/xkilldash9x/batchrun/internal/runner"
)

// persistTimeout bounds run history writes, which happen even after an interrupt.
const persistTimeout = 30 * time.Second

// inputFlagKeys maps the flags shared by run and validate to their config keys.
var inputFlagKeys = map[string]string{
	"items":      "inputs.items_file",
	"proxies":    "inputs.proxies_file",
	"batch-size": "runner.batch_size",
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("items", "", "File with one work item per line")
	cmd.Flags().String("proxies", "", "File with one proxy per line (login:pass:host:port or host:port[:user:pass])")
	cmd.Flags().IntP("batch-size", "j", 0, "Number of items processed concurrently per group")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper, keys map[string]string) error {
	for name, key := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func newRunCmd(v *viper.Viper, deps dependencies) *cobra.Command {
	var reportPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the browser probe for every work item in concurrent batches",
		Long: `Reads the work items and proxy pool, then probes every item in groups of
--batch-size. Each item gets a randomly selected proxy. Items whose page reaches
the success prefix are appended to the output file.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			keys := map[string]string{
				"output":         "inputs.output_file",
				"target":         "probe.target_template",
				"success-prefix": "probe.success_prefix",
				"headless":       "browser.headless",
			}
			for name, key := range inputFlagKeys {
				keys[name] = key
			}
			return bindFlags(cmd, v, keys)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), cmd.OutOrStdout(), cfg, deps, reportPath)
		},
	}

	addInputFlags(runCmd)
	runCmd.Flags().String("output", "", "File that successful items are appended to")
	runCmd.Flags().String("target", "", "URL template opened per item; {item} is replaced with the item")
	runCmd.Flags().String("success-prefix", "", "URL prefix that marks an item as successful")
	runCmd.Flags().Bool("headless", true, "Run browsers in headless mode")
	runCmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this file ('-' for stdout)")

	return runCmd
}

func runBatch(ctx context.Context, out io.Writer, cfg config.Interface, deps dependencies, reportPath string) error {
	logger := observability.GetLogger()
	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))

	items, err := inputs.LoadItems(cfg.Inputs().ItemsFile)
	if err != nil {
		return err
	}
	proxies, err := inputs.LoadProxies(cfg.Inputs().ProxiesFile, logger)
	if err != nil {
		return err
	}
	if len(proxies) == 0 {
		logger.Warn("No proxies loaded, running without a proxy", zap.String("proxies_file", cfg.Inputs().ProxiesFile))
	}

	recorder, err := results.NewRecorder(cfg.Inputs().OutputFile, logger)
	if err != nil {
		return fmt.Errorf("failed to set up output file: %w", err)
	}

	launcher := deps.newLauncher(cfg.Browser(), logger)
	driver, err := browser.NewDriver(cfg.Browser(), cfg.Probe(), launcher, logger)
	if err != nil {
		return fmt.Errorf("failed to create browser driver: %w", err)
	}

	taskTimeout := cfg.Probe().TaskTimeout
	task := func(ctx context.Context, item runner.WorkItem, proxy *inputs.Proxy) error {
		if taskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, taskTimeout)
			defer cancel()
		}
		if err := driver.Probe(ctx, item, proxy); err != nil {
			return err
		}
		recorder.Record(item)
		return nil
	}

	batchSize := cfg.Runner().BatchSize
	fmt.Fprintf(out, "Starting run %s: %d items, %d proxies, batch size %d.\n", runID, len(items), len(proxies), batchSize)

	started := time.Now()
	report, err := runner.Run(ctx, items, proxies, batchSize, task,
		runner.WithLogger[inputs.Proxy](logger),
		runner.WithObserver[inputs.Proxy](newProgressPrinter(out, len(runner.Partition(items, batchSize)))),
	)
	if err != nil {
		return err
	}
	rec := results.NewRunRecord(runID, started, time.Now(), batchSize, len(proxies), report)

	if err := results.WriteSummary(out, rec); err != nil {
		return err
	}
	if reportPath != "" {
		if err := writeReport(out, reportPath, rec); err != nil {
			return err
		}
	}
	if url := cfg.Database().URL; url != "" {
		persistRun(ctx, deps, url, rec, logger)
	}
	return nil
}

func writeReport(out io.Writer, path string, rec results.RunRecord) error {
	if path == "-" {
		return results.WriteJSON(out, rec)
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to resolve report path: %w", err)
	}
	f, err := os.Create(expanded)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	if err := results.WriteJSON(f, rec); err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", expanded)
	return nil
}

// persistRun saves the run history. Database problems never fail a run whose
// items have already been processed.
func persistRun(ctx context.Context, deps dependencies, url string, rec results.RunRecord, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	pool, closePool, err := deps.openDB(ctx, url)
	if err != nil {
		logger.Warn("Could not connect to run history database", zap.Error(err))
		return
	}
	defer closePool()

	store, err := results.NewStore(ctx, pool, logger)
	if err != nil {
		logger.Warn("Run history database unavailable", zap.Error(err))
		return
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Warn("Failed to prepare run history schema", zap.Error(err))
		return
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		logger.Warn("Failed to save run history", zap.Error(err))
	}
}

// progressPrinter reports group progress on the command output.
type progressPrinter struct {
	out    io.Writer
	groups int
}

func newProgressPrinter(out io.Writer, groups int) *progressPrinter {
	return &progressPrinter{out: out, groups: groups}
}

func (p *progressPrinter) GroupStarted(index int, items []runner.WorkItem) {
	fmt.Fprintf(p.out, "Group %d/%d: %s\n", index+1, p.groups, strings.Join(items, ", "))
}

func (p *progressPrinter) GroupFinished(index int, res []runner.TaskResult) {
	ok := 0
	for _, r := range res {
		if r.Success {
			ok++
		}
	}
	fmt.Fprintf(p.out, "Group %d/%d done: %d succeeded, %d failed\n", index+1, p.groups, ok, len(res)-ok)
}
