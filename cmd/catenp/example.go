package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	cate "github.com/qri-io/cate-go"
	"github.com/spf13/cobra"
)

var detailsFile string

func init() {
	exampleCmd.Flags().StringVar(&detailsFile, "details-file", "./test-data.txt", "server and query details, one per line")
	rootCmd.AddCommand(exampleCmd)
}

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Runs the example session against a server",
	Long: `Runs the example session: authenticate, print database info and
coverage, then download data. The details file holds, one per line: server
address, port, user name, password, start time, stop time, first channel
and last channel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(detailsFile)
		if err != nil {
			return err
		}
		defer f.Close()
		d, err := readDetails(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", detailsFile, err)
		}
		return runExample(cmd, d)
	},
}

type details struct {
	cfg      cate.Config
	password string
	tstart   string
	tstop    string
	cstart   int
	cstop    int
}

func readDetails(r io.Reader) (details, error) {
	var lines []string
	s := bufio.NewScanner(r)
	for s.Scan() && len(lines) < 8 {
		lines = append(lines, strings.TrimRight(s.Text(), " \t\r"))
	}
	if err := s.Err(); err != nil {
		return details{}, err
	}
	if len(lines) < 8 {
		return details{}, fmt.Errorf("want 8 lines, got %d", len(lines))
	}

	port, err := strconv.Atoi(lines[1])
	if err != nil {
		return details{}, fmt.Errorf("port: %w", err)
	}
	cstart, err := strconv.Atoi(lines[6])
	if err != nil {
		return details{}, fmt.Errorf("first channel: %w", err)
	}
	cstop, err := strconv.Atoi(lines[7])
	if err != nil {
		return details{}, fmt.Errorf("last channel: %w", err)
	}
	return details{
		cfg: cate.Config{
			Server:   lines[0],
			Port:     port,
			Username: lines[2],
			Scheme:   scheme,
			HTTP2:    useHTTP2,
			Timeout:  timeout,
		},
		password: lines[3],
		tstart:   lines[4],
		tstop:    lines[5],
		cstart:   cstart,
		cstop:    cstop,
	}, nil
}

func runExample(cmd *cobra.Command, d details) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Got server details:")
	fmt.Fprintln(w, "   Server=", d.cfg.Server)
	fmt.Fprintln(w, "   port=", d.cfg.Port)
	fmt.Fprintln(w, "   User=", d.cfg.Username)

	fmt.Fprintln(w, "\nAuthenticate")
	c, err := login(ctx, d.cfg, d.password)
	if err != nil {
		return err
	}
	tk, _ := c.Sessions().Get(c.Session())
	fmt.Fprintln(w, "Got session token: ", tk)

	fmt.Fprintln(w, "\nDatabase info")
	info, err := c.DatabaseInfo(ctx, false)
	if err != nil {
		return err
	}
	printInfo(w, info)

	fmt.Fprintln(w, "\nDatabase coverage")
	covq, err := parseQuery("2022-09-07T08:30:00+00:00", "2022-09-07T09:30:00+00:00", 0, 4000)
	if err != nil {
		return err
	}
	cov, err := c.DatabaseCoverage(ctx, covq, false)
	if err != nil {
		return err
	}
	printCoverage(w, cov)

	fmt.Fprintln(w, "\nGetting data:")
	fmt.Fprintln(w, "Interval: ")
	fmt.Fprintln(w, "   tstart=", d.tstart)
	fmt.Fprintln(w, "   tstop=", d.tstop)
	fmt.Fprintln(w, "   cstart=", d.cstart)
	fmt.Fprintln(w, "   cstop=", d.cstop)
	q, err := parseQuery(d.tstart, d.tstop, d.cstart, d.cstop)
	if err != nil {
		return err
	}
	arr, err := c.GetData(ctx, q)
	if err != nil {
		return err
	}
	printArray(w, arr)
	return nil
}
