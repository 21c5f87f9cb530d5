package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/report"
)

// importResult is one file's outcome, kept in argument order for printing.
type importResult struct {
	file   string
	result *renewal.IngestResult
	plan   *renewal.Plan
}

// ImportCmd returns the import command.
func ImportCmd(a *app) *cobra.Command {
	var (
		agency     string
		start, end string
		uploadedBy string
		dryRun     bool
		parallel   int
	)

	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Reconcile carrier renewal reports (CSV or XLSX)",
		Long: `Parse each report and reconcile it against the stored records for the
same agency and window. Files are processed concurrently; files covering the
same window are applied one after another in no particular order.

With --dry-run nothing is written and the plan for each file is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}
			startDate, err := renewal.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			endDate, err := renewal.ParseDate(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			window, err := renewal.NewWindow(startDate, endDate)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ingestor := renewal.NewIngestor(store, a.logger)
			results := make([]importResult, len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for i, file := range args {
				i, file := i, file
				g.Go(func() error {
					rows, err := report.ParseFile(file)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					req := renewal.UploadRequest{
						AgencyID:   renewal.AgencyID(agency),
						Filename:   filepath.Base(file),
						UploadedBy: uploadedBy,
						Window:     window,
						Rows:       rows,
					}

					results[i].file = file
					if dryRun {
						plan, err := ingestor.Preview(ctx, req)
						if err != nil {
							return fmt.Errorf("%s: %w", file, err)
						}
						results[i].plan = plan
						return nil
					}

					res, err := ingestor.Ingest(ctx, req)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					results[i].result = res
					return nil
				})
			}
			waitErr := g.Wait()

			for _, r := range results {
				printImportResult(r)
			}
			return waitErr
		},
	}

	cmd.Flags().StringVar(&agency, "agency", "", "agency id (required)")
	cmd.Flags().StringVar(&start, "start", "", "window start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "window end date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&uploadedBy, "by", "", "uploader display name")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the reconciliation plan without writing")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "files processed at once")
	_ = cmd.MarkFlagRequired("agency")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func printImportResult(r importResult) {
	switch {
	case r.result != nil:
		res := r.result
		status := color.New(color.FgGreen).Sprint("OK")
		if res.Errored > 0 {
			status = color.New(color.FgYellow).Sprint("PARTIAL")
		}
		fmt.Printf("%s %s: %d processed, %s errored\n", status, r.file, res.Processed,
			colorCount(res.Errored, color.FgRed))
		fmt.Printf("    new %s  confirmed %d  dropped %s  restored %s\n",
			colorCount(res.Inserted, color.FgCyan), res.Confirmed,
			colorCount(res.Dropped, color.FgYellow), colorCount(res.Restored, color.FgGreen))
		for _, e := range res.Errors {
			fmt.Printf("    %s\n", color.New(color.FgRed).Sprint(e.Error()))
		}
	case r.plan != nil:
		p := r.plan
		fmt.Printf("%s %s (base version %d)\n", color.New(color.FgCyan).Sprint("PLAN"), r.file, p.BaseVersion)
		fmt.Printf("    insert %d  confirm %d  drop %d  restore %d  reject %d\n",
			len(p.ToInsert), len(p.ToConfirm), len(p.ToMarkDropped), len(p.ToUnmarkDropped), len(p.Rejected))
		for _, rec := range p.ToMarkDropped {
			fmt.Printf("    drop %s (%s)\n", rec.PolicyNumber, rec.CustomerName())
		}
	case r.file != "":
		fmt.Printf("%s %s\n", color.New(color.FgRed).Sprint("FAILED"), r.file)
	}
}

func colorCount(n int, attr color.Attribute) string {
	if n == 0 {
		return "0"
	}
	return color.New(attr).Sprint(n)
}
