package main

import (
	"fmt"
	"io"
	"os"

	cate "github.com/qri-io/cate-go"
	"github.com/qri-io/cate-go/pebblestore"
	"github.com/spf13/cobra"
)

var (
	getQuery       queryFlags
	getOut         string
	getConcurrency int
	getCacheDir    string
	getCacheKind   string
	getStrict      bool
)

func init() {
	getQuery.register(getCmd)
	getCmd.Flags().StringVarP(&getOut, "out", "o", "", "write the array to this .npy file")
	getCmd.Flags().IntVar(&getConcurrency, "concurrency", 1, "segments to download at once")
	getCmd.Flags().StringVar(&getCacheDir, "cache", "", "keep downloaded segments in this directory")
	getCmd.Flags().StringVar(&getCacheKind, "cache-backend", "pebble", "cache layout: pebble (one database) or dir (one file per segment)")
	getCmd.Flags().BoolVar(&getStrict, "strict", false, "fail on overlapping, missing or mixed-type segments")
	rootCmd.AddCommand(getCmd)
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Downloads channel data for a time and channel range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := getQuery.query()
		if err != nil {
			return err
		}

		opts := []cate.Option{cate.WithConcurrency(getConcurrency)}
		if getStrict {
			opts = append(opts, cate.WithStrictPlan())
		}
		if getCacheDir != "" {
			cache, closeCache, err := openCache(getCacheKind, getCacheDir)
			if err != nil {
				return err
			}
			defer closeCache()
			opts = append(opts, cate.WithSegmentCache(cache))
		}

		c, err := connect(cmd.Context(), opts...)
		if err != nil {
			return err
		}
		arr, err := c.GetData(cmd.Context(), q)
		if err != nil {
			return err
		}
		printArray(cmd.OutOrStdout(), arr)

		if getOut == "" {
			return nil
		}
		f, err := os.Create(getOut)
		if err != nil {
			return err
		}
		if err := arr.WriteNPY(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

// openCache opens the segment cache in dir. The returned func releases it.
func openCache(backend, dir string) (cate.SegmentStore, func() error, error) {
	switch backend {
	case "pebble":
		s, err := pebblestore.Open(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "dir":
		s, err := cate.NewLocalStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q, want pebble or dir", backend)
}

func printArray(w io.Writer, arr *cate.Array) {
	fmt.Fprintln(w, "Got data:")
	fmt.Fprintf(w, "  arr.shape= (%d, %d)\n", arr.Rows, arr.Cols)
	fmt.Fprintln(w, "  arr.dtype=", arr.Dtype.Name())
	lo, err := arr.Min()
	if err != nil {
		return
	}
	hi, _ := arr.Max()
	fmt.Fprintln(w, "  range=", lo, hi)
}
