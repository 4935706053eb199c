package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/ledgersync/expsync/internal/expenses"
	"github.com/ledgersync/expsync/internal/schema"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var categories = []string{"Food", "Transport", "Housing", "Utilities", "Health", "Entertainment", "Shopping", "Travel", "Other"}

// addInput holds the add command's fields as typed by the user.
type addInput struct {
	Title       string
	Amount      string
	Category    string
	Currency    string
	Date        string
	Description string
}

func (in addInput) complete() bool {
	return in.Title != "" && in.Amount != "" && in.Category != ""
}

// toInput converts typed fields into a create request. Dates accept the
// same natural expressions as the --date flag.
func (in addInput) toInput(now time.Time) (expenses.Input, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil {
		return expenses.Input{}, fmt.Errorf("invalid amount %q", in.Amount)
	}
	date, err := parseNaturalDate(in.Date, now)
	if err != nil {
		return expenses.Input{}, err
	}

	out := expenses.Input{
		Title:    strings.TrimSpace(in.Title),
		Amount:   amount,
		Category: strings.TrimSpace(in.Category),
		Currency: strings.ToUpper(strings.TrimSpace(in.Currency)),
		Date:     date.Format(time.RFC3339),
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		out.Description = &d
	}
	return out, nil
}

func runAddForm(in *addInput) error {
	if in.Category == "" {
		in.Category = categories[0]
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&in.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("title is required")
					}
					if len(s) > schema.MaxTitleLength {
						return fmt.Errorf("title must be %d characters or less", schema.MaxTitleLength)
					}
					return nil
				}),
			huh.NewInput().
				Title("Amount").
				Value(&in.Amount).
				Validate(func(s string) error {
					d, err := decimal.NewFromString(strings.TrimSpace(s))
					if err != nil {
						return errors.New("enter a number, e.g. 12.50")
					}
					if d.IsNegative() {
						return errors.New("amount must not be negative")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Category").
				Options(huh.NewOptions(categories...)...).
				Value(&in.Category),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Date").
				Description("ISO date or e.g. yesterday, last friday. Empty means now.").
				Value(&in.Date).
				Validate(func(s string) error {
					_, err := parseNaturalDate(s, time.Now())
					return err
				}),
			huh.NewInput().
				Title("Currency").
				Placeholder(schema.DefaultCurrency).
				Value(&in.Currency),
			huh.NewText().
				Title("Description").
				Value(&in.Description),
		),
	)
	return form.Run()
}

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "data",
	Short:   "Add an expense for a user",
	Long: `Add one expense directly on the server.

Missing fields are prompted for when running in a terminal. Dates accept
ISO timestamps and English expressions such as "yesterday".

Examples:
  expsync add --user user-1 --title Lunch --amount 12.50 --category Food
  expsync add --user user-1 --date "last friday"`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		userID, _ := cmd.Flags().GetString("user")

		var in addInput
		in.Title, _ = cmd.Flags().GetString("title")
		in.Amount, _ = cmd.Flags().GetString("amount")
		in.Category, _ = cmd.Flags().GetString("category")
		in.Currency, _ = cmd.Flags().GetString("currency")
		in.Date, _ = cmd.Flags().GetString("date")
		in.Description, _ = cmd.Flags().GetString("description")

		if !in.complete() {
			if !ui.IsTerminal(os.Stdin) {
				fatalf("--title, --amount and --category are required when not running interactively")
			}
			if err := runAddForm(&in); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return
				}
				fatalf("%v", err)
			}
		}

		input, err := in.toInput(time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		database := openDB(cfg)
		defer database.Close()

		logs := newLogging(cfg)
		defer logs.Close()

		c := openCache(cfg, logs.Logger("cache"))
		defer c.Close()

		svc := expenses.New(database, c, logs.Logger("expenses"))
		e, err := svc.Create(context.Background(), userID, input)
		if err != nil {
			fatalf("%v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Created expense %s\n\n", ui.RenderPass("✓"), ui.RenderAccent(e.ID))
		ui.PrintFields(out, []ui.KeyValue{
			{Key: "Title", Value: e.Title},
			{Key: "Amount", Value: e.Amount.StringFixed(2) + " " + e.Currency},
			{Key: "Category", Value: e.Category},
			{Key: "Date", Value: e.Date.Format("2006-01-02")},
		})
	},
}

func init() {
	addCmd.Flags().StringP("user", "u", "", "User id that owns the expense (required)")
	addCmd.Flags().String("title", "", "Expense title")
	addCmd.Flags().String("amount", "", "Amount, e.g. 12.50")
	addCmd.Flags().String("category", "", "Category")
	addCmd.Flags().String("currency", "", "ISO currency code (default USD)")
	addCmd.Flags().String("date", "", "Date: ISO or natural language (default now)")
	addCmd.Flags().String("description", "", "Optional description")
	_ = addCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(addCmd)
}
