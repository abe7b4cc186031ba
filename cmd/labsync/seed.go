package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/labsync/internal/repository"
	"github.com/spf13/cobra"
)

var loginPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill an empty cache with sample staff and tests",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Check a username and password against the cached logins",
	Long:  "Verify credentials offline. The password is read from --password or, when omitted, from the first line of stdin.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (read from stdin when omitted)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	res, err := c.SeedSampleData(cmd.Context())
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	if len(res.Staff) == 0 && len(res.Tests) == 0 {
		fmt.Fprintln(out, "Cache already has data; nothing seeded.")
		return nil
	}
	for i, s := range res.Staff {
		fmt.Fprintf(out, "Created %s %s, login %s / %s\n", s.Role, s.Name, res.Logins[i].Username, res.Logins[i].Password)
	}
	for _, t := range res.Tests {
		fmt.Fprintf(out, "Created test %s %s\n", t.TestCode, t.TestName)
	}
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &password); err != nil {
			return errors.New("password required (use --password or pipe it on stdin)")
		}
	}

	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	cred, err := c.Authenticate(args[0], password)
	if errors.Is(err, repository.ErrInvalidCredentials) {
		return errors.New("invalid username or password")
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"username": cred.Username,
			"role":     cred.Role,
			"personId": cred.PersonID,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Authenticated %s (%s)\n", cred.Username, cred.Role)
	return nil
}
