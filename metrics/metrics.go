// Package metrics records builder activity with OpenCensus.
package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	ActiveInstances = stats.Int64(
		"aoinb/base_image/active_instances",
		"Containers currently layered on the base image",
		stats.UnitDimensionless,
	)

	OverlayOperations = stats.Int64(
		"aoinb/overlay/operations",
		"Overlay mounts and unmounts",
		stats.UnitDimensionless,
	)

	CommandLatency = stats.Float64(
		"aoinb/command/latency",
		"Wall time of commands run in a sandbox or the base image",
		stats.UnitMilliseconds,
	)
)

var (
	KeyOp     = tag.MustNewKey("op")
	KeyResult = tag.MustNewKey("result")
	KeyKind   = tag.MustNewKey("kind")
)

var Views = []*view.View{
	{
		Name:        ActiveInstances.Name(),
		Description: ActiveInstances.Description(),
		Measure:     ActiveInstances,
		Aggregation: view.LastValue(),
	},
	{
		Name:        OverlayOperations.Name(),
		Description: OverlayOperations.Description(),
		Measure:     OverlayOperations,
		TagKeys:     []tag.Key{KeyOp, KeyResult},
		Aggregation: view.Count(),
	},
	{
		Name:        CommandLatency.Name(),
		Description: CommandLatency.Description(),
		Measure:     CommandLatency,
		TagKeys:     []tag.Key{KeyKind, KeyResult},
		Aggregation: view.Distribution(10, 100, 1000, 10000, 60000, 600000, 3600000),
	},
}

var registerOnce sync.Once
var registerErr error

// Register registers Views with the default OpenCensus worker. Safe to call
// more than once.
func Register() error {
	registerOnce.Do(func() {
		registerErr = view.Register(Views...)
	})

	return registerErr
}

func RecordActive(count int) {
	stats.Record(context.Background(), ActiveInstances.M(int64(count)))
}

func RecordOverlay(op string, err error) {
	stats.RecordWithTags(
		context.Background(),
		[]tag.Mutator{tag.Upsert(KeyOp, op), tag.Upsert(KeyResult, result(err))},
		OverlayOperations.M(1),
	)
}

func RecordCommand(kind string, started time.Time, err error) {
	elapsed := float64(time.Since(started)) / float64(time.Millisecond)

	stats.RecordWithTags(
		context.Background(),
		[]tag.Mutator{tag.Upsert(KeyKind, kind), tag.Upsert(KeyResult, result(err))},
		CommandLatency.M(elapsed),
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

type Row struct {
	View  string            `json:"view"`
	Tags  map[string]string `json:"tags,omitempty"`
	Count int64             `json:"count"`
	Value float64           `json:"value"`
}

// Snapshot returns the current data of every registered view, sorted by
// view name and tags.
func Snapshot() ([]Row, error) {
	rows := []Row{}

	for _, v := range Views {
		data, err := view.RetrieveData(v.Name)
		if err != nil {
			return nil, err
		}

		for _, r := range data {
			row := Row{View: v.Name}

			if len(r.Tags) > 0 {
				row.Tags = map[string]string{}
				for _, t := range r.Tags {
					row.Tags[t.Key.Name()] = t.Value
				}
			}

			switch d := r.Data.(type) {
			case *view.CountData:
				row.Count = d.Value
				row.Value = float64(d.Value)
			case *view.LastValueData:
				row.Count = 1
				row.Value = d.Value
			case *view.DistributionData:
				row.Count = d.Count
				row.Value = d.Mean
			case *view.SumData:
				row.Value = d.Value
			}

			rows = append(rows, row)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].View != rows[j].View {
			return rows[i].View < rows[j].View
		}

		return tagString(rows[i].Tags) < tagString(rows[j].Tags)
	})

	return rows, nil
}

func tagString(tags map[string]string) string {
	parts := []string{}
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}

	sort.Strings(parts)

	return strings.Join(parts, ",")
}
