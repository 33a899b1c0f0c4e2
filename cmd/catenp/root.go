package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cate "github.com/qri-io/cate-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverAddress string
	serverPort    int
	userName      string
	userPassword  string
	scheme        string
	useHTTP2      bool
	timeout       time.Duration
	verbose       bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "catenp",
	Short: "Extract data from CATE archives",
	Long: `catenp authenticates to a CATE archive server, reports database
coverage and downloads channel data as a single 2D array.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&serverAddress, "server", "", "CATE server address")
	f.IntVar(&serverPort, "port", 8000, "CATE server port")
	f.StringVar(&userName, "user", "", "user name on the server")
	f.StringVar(&userPassword, "password", "", "password on the server (default $CATE_PASSWORD)")
	f.StringVar(&scheme, "scheme", "http", "http or https")
	f.BoolVar(&useHTTP2, "http2", false, "use HTTP/2 (h2c for plain http)")
	f.DurationVar(&timeout, "timeout", 0, "per request timeout, 0 for none")
	f.BoolVarP(&verbose, "verbose", "v", false, "log requests and segment downloads")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

// connect builds a client from the persistent flags and authenticates it.
func connect(ctx context.Context, opts ...cate.Option) (*cate.Client, error) {
	pw := userPassword
	if pw == "" {
		pw = os.Getenv("CATE_PASSWORD")
	}
	return login(ctx, cate.Config{
		Server:   serverAddress,
		Port:     serverPort,
		Username: userName,
		Scheme:   scheme,
		HTTP2:    useHTTP2,
		Timeout:  timeout,
	}, pw, opts...)
}

func login(ctx context.Context, cfg cate.Config, pw string, opts ...cate.Option) (*cate.Client, error) {
	opts = append([]cate.Option{cate.WithLogger(logger)}, opts...)
	c, err := cate.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := c.Authenticate(ctx, pw); err != nil {
		return nil, err
	}
	return c, nil
}

// queryFlags holds the time and channel range flags shared by commands
type queryFlags struct {
	tmin, tmax string
	cmin, cmax int
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.tmin, "tmin", "", "start time, ISO 8601 (eg. 2022-09-07T08:30:00+00:00)")
	cmd.Flags().StringVar(&q.tmax, "tmax", "", "stop time, ISO 8601")
	cmd.Flags().IntVar(&q.cmin, "cmin", 0, "first channel")
	cmd.Flags().IntVar(&q.cmax, "cmax", 0, "last channel (inclusive)")
	cmd.MarkFlagRequired("tmin")
	cmd.MarkFlagRequired("tmax")
}

func (q *queryFlags) query() (cate.Query, error) {
	return parseQuery(q.tmin, q.tmax, q.cmin, q.cmax)
}

// timeLayouts are tried in order. Times without an offset are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (t time.Time, err error) {
	for _, layout := range timeLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return t, err
}

func parseQuery(tmin, tmax string, cmin, cmax int) (cate.Query, error) {
	start, err := parseTime(tmin)
	if err != nil {
		return cate.Query{}, fmt.Errorf("parsing start time: %w", err)
	}
	stop, err := parseTime(tmax)
	if err != nil {
		return cate.Query{}, fmt.Errorf("parsing stop time: %w", err)
	}
	q := cate.Query{Start: start, Stop: stop, ChannelStart: cmin, ChannelStop: cmax}
	return q, q.Validate()
}
