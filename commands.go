package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"KURA-backend/internal/platform/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, conn, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			log.Println("[INFO] migrations applied")
			return nil
		},
	}
}

// archive は cron などの外部スケジューラから呼ばれる想定
func archiveCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive loans that ended before the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			if days <= 0 {
				days = cfg.Loans.RetentionDays
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			n, err := newLoanService(cfg, conn).ArchiveEnded(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d loans\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "archive loans ended more than this many days ago (default: loans.retention_days)")
	return cmd
}

func availabilityCmd() *cobra.Command {
	var (
		equipmentID int64
		start, end  string
		quantity    int
	)
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Show the free quantity of an equipment item",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			var from, to *time.Time
			for _, v := range []struct {
				raw string
				dst **time.Time
			}{{start, &from}, {end, &to}} {
				if v.raw == "" {
					continue
				}
				t, err := time.Parse(time.RFC3339, v.raw)
				if err != nil {
					return fmt.Errorf("invalid time %q: %w", v.raw, err)
				}
				*v.dst = &t
			}

			res, err := newLoanService(cfg, conn).CheckAvailability(cmd.Context(), equipmentID, from, to, quantity)
			if err != nil {
				return err
			}
			if res == nil {
				return errors.New("equipment not found")
			}
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().Int64Var(&equipmentID, "equipment", 0, "equipment id")
	cmd.Flags().StringVar(&start, "start", "", "range start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "range end (RFC3339, exclusive)")
	cmd.Flags().IntVar(&quantity, "quantity", 1, "requested quantity")
	_ = cmd.MarkFlagRequired("equipment")
	return cmd
}
