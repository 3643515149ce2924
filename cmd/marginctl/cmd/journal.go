package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/pkg/id"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the transaction journal",
	Long: `Query and display workflow and account records from the SQLite journal,
or from a Postgres journal with --dsn.

Subcommands:
  tx       - Show one transaction workflow by ID
  today    - List workflows finished today
  day      - List workflows finished on a specific day
  accounts - List account snapshots for a day

Examples:
  marginctl journal tx 01J9Z3W4Q7X2M8N5K6P1R0S9TB
  marginctl journal today
  marginctl journal day 2026-10-15
  marginctl journal accounts --market ETH-DAI --day 2026-10-15`,
}

var journalTxCmd = &cobra.Command{
	Use:   "tx <id>",
	Short: "Show a transaction workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTx,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List workflows finished today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTxDay(time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List workflows finished on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTxDay(args[0])
	},
}

var journalAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List account snapshots for a day",
	Args:  cobra.NoArgs,
	RunE:  runJournalAccounts,
}

var (
	journalDBPath string
	journalDSN    string
	journalMarket string
	journalDay    string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTxCmd, journalTodayCmd, journalDayCmd, journalAccountsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./margin.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVar(&journalDSN, "dsn", "", "Postgres journal DSN (overrides --db)")
	journalAccountsCmd.Flags().StringVar(&journalMarket, "market", "", "only this market")
	journalAccountsCmd.Flags().StringVar(&journalDay, "day", "", "day as YYYY-MM-DD (default today)")
}

func openJournal() (journal.Reader, error) {
	if journalDSN != "" {
		j, err := journal.NewPostgres(journalDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return j, nil
	}
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalTx(cmd *cobra.Command, args []string) error {
	created, err := id.Time(args[0])
	if err != nil {
		return err
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTx(args[0])
	if err != nil {
		return fmt.Errorf("get tx (started %s): %w", created.Local().Format(time.DateTime), err)
	}
	fmt.Println(journal.FormatTxOrg(rec))
	return nil
}

func listTxDay(day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListTxBetween(start, end)
	if err != nil {
		return fmt.Errorf("query workflows: %w", err)
	}
	fmt.Println(journal.FormatTxsOrg(recs))
	return nil
}

func runJournalAccounts(cmd *cobra.Command, args []string) error {
	day := journalDay
	if day == "" {
		day = time.Now().In(time.Local).Format("2006-01-02")
	}
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	snaps, err := j.ListAccountsBetween(journalMarket, start, end)
	if err != nil {
		return fmt.Errorf("query accounts: %w", err)
	}
	fmt.Println(journal.FormatAccountsOrg(snaps))
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
