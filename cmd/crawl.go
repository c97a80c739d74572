package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

type crawlOptions struct {
	mode     string
	regions  []string
	exclude  []string
	interval time.Duration
}

// newCrawlCmd runs one crawl job in-process and prints its run summary.
func newCrawlCmd() *cobra.Command {
	opts := crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl job and waits for it",
		Long: `Submits a full or incremental crawl over the given region codes to an
in-process worker pool, waits for it to finish and prints the run counters.
Interrupting the command cancels the job; checkpoints already written are kept.`,
		Example: "  tzxm-crawler crawl --mode incremental --region 330100 --region 330200 --exclude 光伏",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(crawler.ModeIncremental), "scan strategy: full or incremental")
	cmd.Flags().StringSliceVar(&opts.regions, "region", nil, "region code to scan (repeatable or comma separated)")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "skip projects whose name contains this keyword")
	cmd.Flags().DurationVar(&opts.interval, "poll", 500*time.Millisecond, "job status poll interval")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	workersDone := appInstance.StartBackground(ctx)
	// Workers settle the run record before they return.
	stopWorkers := func() {
		cancel()
		<-workersDone
	}
	defer stopWorkers()

	dispatch := appInstance.Dispatcher()
	task, err := dispatch.Submit(ctx, crawler.JobParameters{
		Mode:            crawler.CrawlMode(opts.mode),
		Regions:         opts.regions,
		ExcludeKeywords: opts.exclude,
	})
	if err != nil {
		return fmt.Errorf("submit crawl: %w", err)
	}
	logger := appInstance.Logger()
	logger.Info("crawl started", zap.String("job_id", task.ID), zap.String("run_id", task.RunID))

	task, err = dispatch.Wait(ctx, task.ID, opts.interval)
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return fmt.Errorf("wait for crawl: %w", err)
	}
	stopWorkers()

	run, err := dispatch.GetRun(context.WithoutCancel(cmd.Context()), task.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	renderRun(cmd, run)
	switch {
	case run.Status == crawler.JobStatusFailed:
		return fmt.Errorf("crawl failed: %s", run.ErrorText)
	case interrupted:
		logger.Warn("crawl interrupted", zap.String("status", string(run.Status)))
	}
	return nil
}

func renderRun(cmd *cobra.Command, run crawler.CrawlRun) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("Crawl run " + run.ID)
	t.AppendRows([]table.Row{
		{"Mode", run.Mode},
		{"Regions", fmt.Sprint(run.Regions)},
		{"Status", run.Status},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Total items", run.Counters.TotalItems},
		{"Matched projects", run.Counters.MatchedProjects},
		{"New projects", run.Counters.NewProjects},
		{"Filtered items", run.Counters.FilteredItems},
		{"Skipped items", run.Counters.SkippedItems},
		{"Aborted regions", run.Counters.AbortedRegions},
	})
	if run.ErrorText != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Error", run.ErrorText})
	}
	t.Render()
}
