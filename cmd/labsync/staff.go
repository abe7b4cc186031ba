package main

import (
	"fmt"
	"strconv"

	"github.com/hyperengineering/labsync/internal/types"
	"github.com/spf13/cobra"
)

var (
	staffInput types.Staff
	staffRole  string
	staffSet   []string
)

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage staff members and phlebotomists",
}

var staffListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staff members and phlebotomists",
	Args:  cobra.NoArgs,
	RunE:  runStaffList,
}

var staffAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a staff member and generate their login",
	Args:  cobra.NoArgs,
	RunE:  runStaffAdd,
}

var staffUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a staff member",
	Args:  cobra.ExactArgs(1),
	RunE:  runStaffUpdate,
}

var staffDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a staff member and their login",
	Args:  cobra.ExactArgs(1),
	RunE:  runStaffDelete,
}

func init() {
	f := staffAddCmd.Flags()
	f.StringVar(&staffInput.Name, "name", "", "Full name (required)")
	f.StringVar(&staffInput.Phone, "phone", "", "Phone number (required, unique)")
	f.StringVar(&staffInput.Email, "email", "", "Email address (unique)")
	f.StringVar(&staffInput.Designation, "designation", "", "Job title")
	f.Float64Var(&staffInput.Salary, "salary", 0, "Monthly salary")
	f.StringVar(&staffInput.JoiningDate, "joining-date", "", "Joining date (YYYY-MM-DD)")
	f.StringVar(&staffRole, "role", string(types.RoleStaff), "staff or phlebotomist")

	staffUpdateCmd.Flags().StringArrayVar(&staffSet, "set", nil, "Field to change as key=value (repeatable)")

	staffCmd.AddCommand(staffListCmd)
	staffCmd.AddCommand(staffAddCmd)
	staffCmd.AddCommand(staffUpdateCmd)
	staffCmd.AddCommand(staffDeleteCmd)
}

func runStaffList(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	staff, err := c.ListStaff(cmd.Context())
	if err != nil {
		return fmt.Errorf("list staff: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"staff": staff,
			"total": len(staff),
		})
	}

	if len(staff) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No staff found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tROLE\tPHONE\tEMAIL\tSTATUS\tSYNC")
	for _, s := range staff {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Name, s.Role, s.Phone, orDash(s.Email), s.Status, s.SyncStatus)
	}
	return w.Flush()
}

func runStaffAdd(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	input := staffInput
	input.Role = types.Role(staffRole)
	s, login, err := c.CreateStaff(input)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"staff": s,
			"login": login,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s %s (%s)\n", s.Role, s.Name, s.ID)
	if login.Username != "" {
		fmt.Fprintf(out, "Login: %s / %s\n", login.Username, login.Password)
		fmt.Fprintln(out, "The password is shown only once.")
	}
	return nil
}

func runStaffUpdate(cmd *cobra.Command, args []string) error {
	patch, err := parsePatch(staffSet)
	if err != nil {
		return err
	}
	// Phone numbers are strings even when they look numeric.
	if v, ok := patch["phone"].(float64); ok {
		patch["phone"] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	s, err := c.UpdateStaff(args[0], patch)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), s)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s)\n", s.Name, s.ID)
	return nil
}

func runStaffDelete(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	if err := c.DeleteStaff(args[0]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": args[0]})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
