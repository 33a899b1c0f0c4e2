package main

import (
	"fmt"
	"io"

	cate "github.com/qri-io/cate-go"
	"github.com/spf13/cobra"
)

var (
	coverageQuery  queryFlags
	coverageDetail bool
)

func init() {
	coverageQuery.register(coverageCmd)
	coverageCmd.Flags().BoolVar(&coverageDetail, "detail", false, "list every data chunk, not just the main chunks")
	rootCmd.AddCommand(coverageCmd)
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Shows the archive files covering a time and channel range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := coverageQuery.query()
		if err != nil {
			return err
		}
		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		cov, err := c.DatabaseCoverage(cmd.Context(), q, coverageDetail)
		if err != nil {
			return err
		}
		printCoverage(cmd.OutOrStdout(), cov)
		return nil
	},
}

func printCoverage(w io.Writer, cov *cate.Coverage) {
	fmt.Fprintln(w, "Info: ")
	for _, e := range cov.Query {
		fmt.Fprintln(w)
		for _, k := range sortedKeys(e.Fields) {
			if k == "row_series_info" {
				continue
			}
			fmt.Fprintln(w, k, ":", e.Fields[k])
		}
		if e.RowSeries == nil {
			continue
		}
		fmt.Fprintln(w, "row_series_info:")
		for _, rs := range e.RowSeries {
			fmt.Fprintln(w, rs.MinTime, rs.MaxTime, rs.MinChannel, rs.MaxChannel, rs.DataURL)
		}
	}
}
