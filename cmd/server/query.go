package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/warp/renewal-engine/renewal"
)

// QueryCmd returns the query command.
func QueryCmd(a *app) *cobra.Command {
	var (
		agency   string
		filters  renewal.FilterSpec
		view     string
		sortSpec string
		page     int
		pageSize int
		summary  bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List stored renewals with filters, sorting and paging",
		Long: `Run the renewal query engine against the database.

Sort columns are given as column:direction, most significant first, e.g.
--sort renewal_status:desc,premium_change_percent:desc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			agencyID := renewal.AgencyID(agency)
			records, err := store.ListRecords(ctx, agencyID)
			if err != nil {
				return err
			}

			if summary {
				printSummary(renewal.Summarize(records))
				return nil
			}

			filters.View = renewal.View(view)
			if filters.HideInActiveAudit {
				audits, err := store.ListAuditPolicies(ctx, agencyID)
				if err != nil {
					return err
				}
				filters.AuditPolicies = renewal.AuditSet(audits)
			}

			if pageSize <= 0 {
				pageSize = a.cfg.Query.DefaultPageSize
			}
			criteria := renewal.ParseSort(sortSpec)
			printPage(renewal.QueryPage(records, filters, criteria, page, pageSize))
			return nil
		},
	}

	cmd.Flags().StringVar(&agency, "agency", "", "agency id (required)")
	cmd.Flags().StringVar(&view, "view", "active", "active, dropped or all")
	cmd.Flags().BoolVar(&filters.PriorityOnly, "priority-only", false, "only records needing attention")
	cmd.Flags().BoolVar(&filters.HideRenewalTaken, "hide-taken", false, "hide renewals already taken")
	cmd.Flags().BoolVar(&filters.HideInActiveAudit, "hide-audit", false, "hide policies under cancel audit")
	cmd.Flags().BoolVar(&filters.FirstTermOnly, "first-term", false, "only first-term renewals")
	cmd.Flags().StringVar(&filters.Search, "search", "", "customer name or policy number")
	cmd.Flags().StringVar(&filters.ProductName, "product", "", "exact product name")
	cmd.Flags().StringVar(&filters.BundledStatus, "bundled", "", "yes, no or n/a")
	cmd.Flags().StringVar(&filters.CurrentStatus, "status", "", "workflow status")
	cmd.Flags().StringVar(&sortSpec, "sort", "", "column:dir[,column:dir...]")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "rows per page (default from config)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print metrics instead of rows")
	_ = cmd.MarkFlagRequired("agency")

	return cmd
}

var bucketColors = map[renewal.Bucket]color.Attribute{
	renewal.BucketHigh:     color.FgRed,
	renewal.BucketModerate: color.FgYellow,
	renewal.BucketMinimal:  color.FgGreen,
	renewal.BucketDecrease: color.FgCyan,
}

func printPage(p renewal.Page) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tPOLICY\tCUSTOMER\tEFFECTIVE\tPRODUCT\tCHANGE\tRENEWAL\tSTATUS")
	for _, r := range p.Rows {
		star := ""
		if r.IsPriority {
			star = "*"
		}
		change := "-"
		if r.PremiumChangePercent.Valid {
			change = r.PremiumChangePercent.Decimal.StringFixed(2) + "%"
			if attr, ok := bucketColors[r.Bucket()]; ok {
				change = color.New(attr).Sprint(change)
			}
		}
		status := string(r.CurrentStatus)
		if r.IsDropped() {
			status = color.New(color.FgRed).Sprint("dropped")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			star, r.PolicyNumber, r.CustomerName(), r.RenewalEffectiveDate, r.ProductName,
			change, r.RenewalStatus, status)
	}
	tw.Flush()
	fmt.Printf("%d records, page %d of %d\n", p.TotalCount, p.Page, max(p.PageCount, 1))
}

func printSummary(s renewal.Summary) {
	fmt.Printf("Total %d  Active %d  Dropped %s\n", s.Total, s.Active, colorCount(s.Dropped, color.FgRed))
	fmt.Printf("Priority %s  First-term %d\n", colorCount(s.Priority, color.FgYellow), s.FirstTerm)
	for _, b := range []renewal.Bucket{
		renewal.BucketHigh, renewal.BucketModerate, renewal.BucketMinimal,
		renewal.BucketDecrease, renewal.BucketUnknown,
	} {
		fmt.Printf("  %-10s %d\n", b, s.ByBucket[b])
	}
}
