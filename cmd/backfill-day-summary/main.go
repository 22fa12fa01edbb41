package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

// backfill-day-summary rebuilds the day_summaries aggregate from vouchers.
// The event worker keeps the table current for new postings; this command
// repairs history after the table is added to an existing deployment, or
// after events were replayed out of order.
func main() {
	companyID := flag.String("company-id", "", "Optional: backfill only one company (uuid string). If empty, backfills all companies.")
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD). Defaults to company creation date.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD). Defaults to today in company timezone.")
	flag.Parse()

	ctx := context.Background()
	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates day_summaries if missing).
	models.MigrateTable()

	ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
	ctx = context.WithValue(ctx, utils.ContextKeyUserName, "BackfillDaySummary")

	var companies []models.Company
	companyQuery := db.WithContext(ctx).Model(&models.Company{})
	if strings.TrimSpace(*companyID) != "" {
		companyQuery = companyQuery.Where("id = ?", strings.TrimSpace(*companyID))
	}
	if err := companyQuery.Find(&companies).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list companies: %v\n", err)
		os.Exit(1)
	}
	if len(companies) == 0 {
		fmt.Fprintln(os.Stderr, "no companies found to backfill")
		return
	}

	for _, company := range companies {
		cid := company.ID.String()
		tz := "Asia/Kolkata"
		if strings.TrimSpace(company.Timezone) != "" {
			tz = strings.TrimSpace(company.Timezone)
		}

		start := strings.TrimSpace(*from)
		if start == "" {
			d, err := utils.ConvertToDate(company.CreatedAt, tz)
			if err != nil {
				fmt.Fprintf(os.Stderr, "company %s: failed to convert creation date: %v\n", cid, err)
				continue
			}
			start = d.Format("2006-01-02")
		}

		end := strings.TrimSpace(*to)
		if end == "" {
			d, err := utils.ConvertToDate(time.Now().UTC(), tz)
			if err != nil {
				fmt.Fprintf(os.Stderr, "company %s: failed to convert now(): %v\n", cid, err)
				continue
			}
			end = d.Format("2006-01-02")
		}

		fmt.Printf("Backfilling day_summaries company=%s tz=%s from=%s to=%s\n", cid, tz, start, end)

		if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Upsert summaries from vouchers. Reversals and reversed originals
			// net out of total_amount but stay countable, mirroring the event
			// worker's per-date recompute.
			if err := tx.Exec(`
				INSERT INTO day_summaries (company_id, voucher_type, voucher_date, total_amount, voucher_count, reversal_count, created_at, updated_at)
				SELECT
					v.company_id,
					v.voucher_type,
					DATE(CONVERT_TZ(v.voucher_date, 'UTC', ?)) AS summary_date,
					COALESCE(SUM(CASE WHEN v.is_reversal = 0 AND v.reversed_by_voucher_id IS NULL THEN v.total_amount ELSE 0 END), 0) AS total_amount,
					COALESCE(SUM(CASE WHEN v.is_reversal = 0 THEN 1 ELSE 0 END), 0) AS voucher_count,
					COALESCE(SUM(CASE WHEN v.is_reversal = 1 THEN 1 ELSE 0 END), 0) AS reversal_count,
					NOW(),
					NOW()
				FROM vouchers v
				WHERE
					v.company_id = ?
					AND DATE(CONVERT_TZ(v.voucher_date, 'UTC', ?)) BETWEEN ? AND ?
				GROUP BY
					v.company_id, v.voucher_type, summary_date
				ON DUPLICATE KEY UPDATE
					total_amount = VALUES(total_amount),
					voucher_count = VALUES(voucher_count),
					reversal_count = VALUES(reversal_count),
					updated_at = NOW()
			`, tz, cid, tz, start, end).Error; err != nil {
				return err
			}

			// Delete stale rows (dates that no longer have any vouchers).
			return tx.Exec(`
				DELETE ds
				FROM day_summaries ds
				LEFT JOIN (
					SELECT
						v.company_id,
						v.voucher_type,
						DATE(CONVERT_TZ(v.voucher_date, 'UTC', ?)) AS summary_date
					FROM vouchers v
					WHERE
						v.company_id = ?
						AND DATE(CONVERT_TZ(v.voucher_date, 'UTC', ?)) BETWEEN ? AND ?
					GROUP BY
						v.company_id, v.voucher_type, summary_date
				) agg
					ON agg.company_id = ds.company_id
					AND agg.voucher_type = ds.voucher_type
					AND agg.summary_date = ds.voucher_date
				WHERE
					ds.company_id = ?
					AND ds.voucher_date BETWEEN ? AND ?
					AND agg.summary_date IS NULL
			`, tz, cid, tz, start, end, cid, start, end).Error
		}); err != nil {
			fmt.Fprintf(os.Stderr, "company %s backfill failed: %v\n", cid, err)
			continue
		}
	}

	fmt.Println("Backfill complete")
}
