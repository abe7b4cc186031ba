package main

import (
	"fmt"
	"strconv"

	"github.com/hyperengineering/labsync/internal/types"
	"github.com/spf13/cobra"
)

var (
	testInput types.LabTest
	testSet   []string
)

var testsCmd = &cobra.Command{
	Use:   "tests",
	Short: "Manage the diagnostic test catalog",
}

var testsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Args:  cobra.NoArgs,
	RunE:  runTestsList,
}

var testsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a catalog entry",
	Args:  cobra.NoArgs,
	RunE:  runTestsAdd,
}

var testsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestsUpdate,
}

var testsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestsDelete,
}

func init() {
	f := testsAddCmd.Flags()
	f.StringVar(&testInput.TestCode, "code", "", "Test code (required, unique)")
	f.StringVar(&testInput.TestName, "name", "", "Test name (required)")
	f.StringVar(&testInput.TestCategory, "category", "", "Category")
	f.Float64Var(&testInput.Price, "price", 0, "Price")
	f.StringVar(&testInput.SampleType, "sample-type", "", "Sample type")
	f.StringVar(&testInput.Department, "department", "", "Department")
	f.StringVar(&testInput.NormalRange, "normal-range", "", "Normal range")
	f.StringVar(&testInput.ReportTime, "report-time", "", "Report turnaround")
	f.BoolVar(&testInput.IsActive, "active", true, "Offer the test")

	testsUpdateCmd.Flags().StringArrayVar(&testSet, "set", nil, "Field to change as key=value (repeatable)")

	testsCmd.AddCommand(testsListCmd)
	testsCmd.AddCommand(testsAddCmd)
	testsCmd.AddCommand(testsUpdateCmd)
	testsCmd.AddCommand(testsDeleteCmd)
}

func runTestsList(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	tests, err := c.ListTests(cmd.Context())
	if err != nil {
		return fmt.Errorf("list tests: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"tests": tests,
			"total": len(tests),
		})
	}

	if len(tests) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tests found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tCODE\tNAME\tCATEGORY\tPRICE\tACTIVE\tSYNC")
	for _, t := range tests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%t\t%s\n",
			t.ID, t.TestCode, t.TestName, orDash(t.TestCategory), t.Price, t.IsActive, t.SyncStatus)
	}
	return w.Flush()
}

func runTestsAdd(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	t, err := c.CreateTest(testInput)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created test %s %s (%s)\n", t.TestCode, t.TestName, t.ID)
	return nil
}

func runTestsUpdate(cmd *cobra.Command, args []string) error {
	patch, err := parsePatch(testSet)
	if err != nil {
		return err
	}
	if v, ok := patch["testCode"].(float64); ok {
		patch["testCode"] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	t, err := c.UpdateTest(args[0], patch)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), t)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated test %s (%s)\n", t.TestCode, t.ID)
	return nil
}

func runTestsDelete(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	if err := c.DeleteTest(args[0]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": args[0]})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
