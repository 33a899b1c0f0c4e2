package cate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// isoTimeLayout matches Python's datetime.isoformat for aware times
const isoTimeLayout = "2006-01-02T15:04:05.999999-07:00"

// SegmentDescriptor describes one downloadable chunk of archived data, as
// returned by /get_data_segments. Input is the shape of the payload as
// served, Output is the destination block within the assembled array. All
// bounds are inclusive.
type SegmentDescriptor struct {
	// Opaque server handle used to fetch the payload from /get_data
	DataKey string
	// NumPy dtype string of the payload, see ParseDtype
	Dtype  string
	Input  Extent
	Output Extent
}

// Extent is an inclusive row/column block.
type Extent struct {
	StartRow    int
	StopRow     int
	StartColumn int
	StopColumn  int
}

// Rows is the number of rows spanned by the extent.
func (e Extent) Rows() int { return e.StopRow - e.StartRow + 1 }

// Cols is the number of columns spanned by the extent.
func (e Extent) Cols() int { return e.StopColumn - e.StartColumn + 1 }

// Size is the number of cells spanned by the extent.
func (e Extent) Size() int { return e.Rows() * e.Cols() }

func (e Extent) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", e.StartRow, e.StopRow, e.StartColumn, e.StopColumn)
}

// segmentDescriptorJSON is the flat wire form of a SegmentDescriptor
type segmentDescriptorJSON struct {
	DataKey           string `json:"data_key"`
	Dtype             string `json:"dtype"`
	InputStartRow     int    `json:"input_start_row"`
	InputStopRow      int    `json:"input_stop_row"`
	InputStartColumn  int    `json:"input_start_column"`
	InputStopColumn   int    `json:"input_stop_column"`
	OutputStartRow    int    `json:"output_start_row"`
	OutputStopRow     int    `json:"output_stop_row"`
	OutputStartColumn int    `json:"output_start_column"`
	OutputStopColumn  int    `json:"output_stop_column"`
}

func (s SegmentDescriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentDescriptorJSON{
		DataKey:           s.DataKey,
		Dtype:             s.Dtype,
		InputStartRow:     s.Input.StartRow,
		InputStopRow:      s.Input.StopRow,
		InputStartColumn:  s.Input.StartColumn,
		InputStopColumn:   s.Input.StopColumn,
		OutputStartRow:    s.Output.StartRow,
		OutputStopRow:     s.Output.StopRow,
		OutputStartColumn: s.Output.StartColumn,
		OutputStopColumn:  s.Output.StopColumn,
	})
}

func (s *SegmentDescriptor) UnmarshalJSON(d []byte) error {
	w := segmentDescriptorJSON{}
	if err := json.Unmarshal(d, &w); err != nil {
		return err
	}
	*s = SegmentDescriptor{
		DataKey: w.DataKey,
		Dtype:   w.Dtype,
		Input: Extent{
			StartRow:    w.InputStartRow,
			StopRow:     w.InputStopRow,
			StartColumn: w.InputStartColumn,
			StopColumn:  w.InputStopColumn,
		},
		Output: Extent{
			StartRow:    w.OutputStartRow,
			StopRow:     w.OutputStopRow,
			StartColumn: w.OutputStartColumn,
			StopColumn:  w.OutputStopColumn,
		},
	}
	return nil
}

// Query selects a time interval and an inclusive channel range.
type Query struct {
	// Time of the first sample
	Start time.Time
	// Time of the last sample
	Stop         time.Time
	ChannelStart int
	ChannelStop  int
}

func (q Query) Validate() error {
	if q.Start.IsZero() || q.Stop.IsZero() {
		return newSimpleError(ErrInvalidQuery, "start and stop times are required")
	}
	if q.Stop.Before(q.Start) {
		return newSimpleErrorf(ErrInvalidQuery, "stop %s is before start %s",
			q.Stop.Format(isoTimeLayout), q.Start.Format(isoTimeLayout))
	}
	if q.ChannelStart < 0 || q.ChannelStop < q.ChannelStart {
		return newSimpleErrorf(ErrInvalidQuery, "invalid channel range %d-%d", q.ChannelStart, q.ChannelStop)
	}
	return nil
}

// Params encodes the query as tmin, tmax, cmin, cmax parameters.
func (q Query) Params() url.Values {
	return url.Values{
		"tmin": {q.Start.Format(isoTimeLayout)},
		"tmax": {q.Stop.Format(isoTimeLayout)},
		"cmin": {strconv.Itoa(q.ChannelStart)},
		"cmax": {strconv.Itoa(q.ChannelStop)},
	}
}

// Attributes is a free-form JSON object returned by the server.
type Attributes map[string]interface{}

// Segments returns the "segments" list of a database info response, if any.
func (a Attributes) Segments() []Attributes {
	list, ok := a["segments"].([]interface{})
	if !ok {
		return nil
	}
	segs := make([]Attributes, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]interface{}); ok {
			segs = append(segs, Attributes(m))
		}
	}
	return segs
}

// Coverage is the response of /query_data_segments.
type Coverage struct {
	Query []CoverageEntry `json:"query"`
}

// CoverageEntry is one element of the coverage "query" list. Fields holds
// every key of the entry as sent; RowSeries decodes the optional
// "row_series_info" list.
type CoverageEntry struct {
	Fields    Attributes
	RowSeries []RowSeries
}

// RowSeries locates one data file covering part of a query.
type RowSeries struct {
	MinTime    string `json:"min_time"`
	MaxTime    string `json:"max_time"`
	MinChannel int    `json:"min_channel"`
	MaxChannel int    `json:"max_channel"`
	DataURL    string `json:"data_url"`
}

type coverageEntryDecoder struct {
	RowSeries []RowSeries `json:"row_series_info"`
}

func (e *CoverageEntry) UnmarshalJSON(d []byte) error {
	fields := Attributes{}
	if err := json.Unmarshal(d, &fields); err != nil {
		return err
	}
	rs := coverageEntryDecoder{}
	if err := json.Unmarshal(d, &rs); err != nil {
		return fmt.Errorf("reading row_series_info: %w", err)
	}

	*e = CoverageEntry{Fields: fields, RowSeries: rs.RowSeries}
	return nil
}

func (e CoverageEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
