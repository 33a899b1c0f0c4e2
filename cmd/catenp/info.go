package main

import (
	"fmt"
	"io"
	"sort"

	cate "github.com/qri-io/cate-go"
	"github.com/spf13/cobra"
)

var infoDetail bool

func init() {
	infoCmd.Flags().BoolVar(&infoDetail, "detail", false, "list every data chunk, not just the main chunks")
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Shows database coverage information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		info, err := c.DatabaseInfo(cmd.Context(), infoDetail)
		if err != nil {
			return err
		}
		printInfo(cmd.OutOrStdout(), info)
		return nil
	},
}

func printInfo(w io.Writer, info cate.Attributes) {
	fmt.Fprintln(w, "Info: ")
	for _, k := range sortedKeys(info) {
		if k != "segments" {
			fmt.Fprintln(w, "  ", k, ":", info[k])
			continue
		}
		fmt.Fprintln(w, "  segments:")
		for _, seg := range info.Segments() {
			for _, sk := range sortedKeys(seg) {
				fmt.Fprintln(w, "    ", sk, ":", seg[sk])
			}
			fmt.Fprintln(w)
		}
	}
}

func sortedKeys(a cate.Attributes) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
