package extract

import (
	"encoding/csv"
	"io"
	"maps"
	"slices"
	"strconv"
)

var (
	NodeTableColumns = []string{
		"node_id", "hid", "age", "age_group", "gender", "fips",
		"home_lat", "home_lon", "admin1", "admin2", "admin3", "admin4",
	}
	EdgeTableColumns = []string{"edg_id", "src_id", "dst_id", "occur", "duration", "src_act", "trg_act", "seq"}
	DurationColumns  = []string{"bin_start", "bin_end", "count"}
)

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// WriteNodeTable writes one row per node in insertion order.
func WriteNodeTable(w io.Writer, g *Multigraph) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(NodeTableColumns); err != nil {
		return err
	}
	for _, p := range g.Nodes() {
		err := cw.Write([]string{
			strconv.FormatInt(p.PID, 10),
			strconv.FormatInt(p.HID, 10),
			strconv.Itoa(p.Age),
			string(p.AgeGroup),
			strconv.Itoa(p.Gender),
			p.FIPS,
			formatFloat(p.HomeLat),
			formatFloat(p.HomeLon),
			p.Admin1, p.Admin2, p.Admin3, p.Admin4,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEdgeTable writes one row per edge in id order.
func WriteEdgeTable(w io.Writer, g *Multigraph) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EdgeTableColumns); err != nil {
		return err
	}
	for _, e := range g.Edges() {
		err := cw.Write([]string{
			strconv.Itoa(e.ID),
			strconv.FormatInt(e.SourcePID, 10),
			strconv.FormatInt(e.TargetPID, 10),
			strconv.Itoa(e.Occur),
			strconv.Itoa(e.Duration),
			e.SourceActivity,
			e.TargetActivity,
			strconv.FormatInt(e.Seq, 10),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bin counts durations in [Start, End).
type Bin struct {
	Start int
	End   int
	Count int
}

// DurationHistogram bins the durations of g's edges by width. Only
// non-empty bins are returned, in ascending order. A width below 1 is
// treated as 1.
func DurationHistogram(g *Multigraph, width int) []Bin {
	if width < 1 {
		width = 1
	}
	counts := make(map[int]int)
	for _, e := range g.Edges() {
		counts[e.Duration/width]++
	}
	keys := slices.Sorted(maps.Keys(counts))
	out := make([]Bin, len(keys))
	for i, k := range keys {
		out[i] = Bin{Start: k * width, End: (k + 1) * width, Count: counts[k]}
	}
	return out
}

// WriteHistogram writes bins as CSV.
func WriteHistogram(w io.Writer, bins []Bin) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DurationColumns); err != nil {
		return err
	}
	for _, b := range bins {
		if err := cw.Write([]string{strconv.Itoa(b.Start), strconv.Itoa(b.End), strconv.Itoa(b.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
