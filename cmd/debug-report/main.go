// debug-report reads a geosubmit report from a file (or stdin) and
// prints the internal form it would take in the pipeline, plus the
// observations and shards it would produce. Useful for checking why a
// submission was dropped.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/geo-beacon/report-exporter/internal/report"
	"github.com/geo-beacon/report-exporter/internal/transform"
)

func main() {
	var (
		data []byte
		err  error
	)
	if len(os.Args) > 1 && os.Args[1] != "-" {
		data, err = os.ReadFile(os.Args[1])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading report: %v\n", err)
		os.Exit(1)
	}

	rep, err := transform.FromJSON(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transform failed: %v\n", err)
		os.Exit(1)
	}

	internal, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding internal form: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("=== internal form ===\n%s\n\n", internal)

	if rep.Empty() {
		fmt.Println("report is empty after transform: no valid transmitter entries")
		return
	}

	pos, ok := rep.Position(time.Now())
	if !ok {
		fmt.Println("report has no valid position: would count as malformed")
		return
	}
	fmt.Printf("=== position ===\nlat=%.6f lon=%.6f time=%s\n\n", pos.Lat, pos.Lon, pos.Time.Format(time.RFC3339))

	fmt.Println("=== observations ===")
	for _, e := range rep.Blue {
		obs, ok := report.MakeBlueObservation(pos, e)
		if !ok {
			fmt.Printf("blue %s: dropped (invalid)\n", e.Mac)
			continue
		}
		fmt.Printf("blue %s -> update_blue_%s\n", obs.UniqueKey(), obs.ShardID())
	}
	for _, e := range rep.Cell {
		obs, ok := report.MakeCellObservation(pos, e)
		if !ok {
			fmt.Printf("cell %s: dropped (invalid)\n", e.Radio)
			continue
		}
		fmt.Printf("cell %s -> update_cell_%s\n", obs.UniqueKey(), obs.ShardID())
	}
	for _, e := range rep.Wifi {
		obs, ok := report.MakeWifiObservation(pos, e)
		if !ok {
			fmt.Printf("wifi %s: dropped (invalid)\n", e.Mac)
			continue
		}
		fmt.Printf("wifi %s -> update_wifi_%s\n", obs.UniqueKey(), obs.ShardID())
	}

	lat, lon := report.ScaleGrid(pos.Lat, pos.Lon)
	fmt.Printf("\n=== datamap ===\ngrid (%d, %d) -> update_datamap_%s\n", lat, lon, report.GridShardID(lat, lon))
}
