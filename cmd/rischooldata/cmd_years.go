package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newYearsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "years",
		Short: "Show the range of available end years",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, release, err := a.client(cmd.Context(), false)
			if err != nil {
				return withExitCode(err)
			}
			defer release()

			years, err := client.GetAvailableYears(cmd.Context())
			if err != nil {
				return withExitCode(err)
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(years)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d %d\n", years.MinYear, years.MaxYear)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Printing the version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "rischooldata "+versionString())
			return err
		},
	}
}
