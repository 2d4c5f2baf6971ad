package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/franckalain/pockettrainer/internal/database"
	"github.com/franckalain/pockettrainer/internal/models"
)

var (
	progressUser string
	progressDate string
)

var errNoRecord = errors.New("no record")

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Print a user's stored measurements for a day",
	Example: `  pockettrainer progress --user u1
  pockettrainer progress --user u1 --date 2026-03-14`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, db.Close()) }()

		return printProgress(cmd, db, progressUser, progressDate, loc)
	},
}

func init() {
	progressCmd.Flags().StringVar(&progressUser, "user", "", "user id")
	progressCmd.Flags().StringVar(&progressDate, "date", "", "day as YYYY-MM-DD (default today)")
	_ = progressCmd.MarkFlagRequired("user")
}

func printProgress(cmd *cobra.Command, store database.RecordStore, userID, dateKey string, loc *time.Location) error {
	if dateKey == "" {
		dateKey = models.DateKey(time.Now(), loc)
	}
	rec, found, err := store.Get(cmd.Context(), userID, dateKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w at %s", errNoRecord, database.RecordPath(userID, dateKey))
	}

	out, err := json.MarshalIndent(rec.Fields(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
