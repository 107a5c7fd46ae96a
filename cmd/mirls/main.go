// mirls inspects MIRIAD datasets: the item inventory, the header
// scalars and a summary of a visibility stream.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/miriadio/go-native-miriad/miriad"
	"github.com/miriadio/go-native-miriad/miriad/hio"
	"github.com/miriadio/go-native-miriad/miriad/uvio"
)

func main() {
	cmd := &cli.Command{
		Name:  "mirls",
		Usage: "inspect MIRIAD datasets",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit machine-readable output",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "items",
				Usage:     "list a dataset's items with their probed types",
				ArgsUsage: "<dataset>",
				Action:    runItems,
			},
			{
				Name:      "header",
				Usage:     "dump a dataset's scalar header items",
				ArgsUsage: "<dataset>",
				Action:    runHeader,
			},
			{
				Name:      "uv",
				Usage:     "summarize a visibility stream",
				ArgsUsage: "<dataset>",
				Action:    runUV,
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mirls:", err)
		os.Exit(1)
	}
}

func datasetArg(cmd *cli.Command) (string, error) {
	path := cmd.Args().First()
	if path == "" {
		return "", fmt.Errorf("a dataset path is required")
	}
	return path, nil
}

func emit(cmd *cli.Command, v any, plain func()) error {
	if !cmd.Root().Bool("json") {
		plain()
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type itemInfo struct {
	Name  string `json:"name"`
	Descr string `json:"descr"`
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type itemsReport struct {
	Path   string     `json:"path"`
	Flavor string     `json:"flavor"`
	Items  []itemInfo `json:"items"`
}

func runItems(ctx context.Context, cmd *cli.Command) error {
	path, err := datasetArg(cmd)
	if err != nil {
		return err
	}
	flavor, err := miriad.Probe(path)
	if err != nil {
		return err
	}
	ds, err := hio.Open(path, "old")
	if err != nil {
		return err
	}
	defer ds.Close()
	names, err := ds.ItemNames()
	if err != nil {
		return err
	}
	report := itemsReport{Path: path, Flavor: flavor.String()}
	for _, name := range names {
		descr, typeName, count, perr := ds.Probe(name)
		if perr != nil {
			return perr
		}
		report.Items = append(report.Items, itemInfo{name, descr, typeName, count})
	}
	return emit(cmd, report, func() {
		fmt.Printf("%s (%s)\n", path, flavor)
		for _, it := range report.Items {
			fmt.Printf("  %-9s %-10s %6d  %s\n", it.Name, it.Type, it.Count, it.Descr)
		}
	})
}

type headerReport struct {
	Path    string         `json:"path"`
	Headers map[string]any `json:"headers"`
}

func runHeader(ctx context.Context, cmd *cli.Command) error {
	path, err := datasetArg(cmd)
	if err != nil {
		return err
	}
	ds, err := hio.Open(path, "old")
	if err != nil {
		return err
	}
	defer ds.Close()
	names, err := ds.ItemNames()
	if err != nil {
		return err
	}
	report := headerReport{Path: path, Headers: make(map[string]any)}
	for _, name := range names {
		value, rerr := ds.RdHead(name)
		if rerr != nil {
			continue // arrays, masks and streams are not header scalars
		}
		report.Headers[name] = value
	}
	return emit(cmd, report, func() {
		fmt.Println(path)
		for _, name := range names {
			if v, ok := report.Headers[name]; ok {
				fmt.Printf("  %-9s = %v\n", name, v)
			}
		}
	})
}

type uvReport struct {
	Path     string   `json:"path"`
	Records  int64    `json:"records"`
	Channels int      `json:"channels"`
	Flagged  int64    `json:"flagged"`
	TimeMin  float64  `json:"time_min"`
	TimeMax  float64  `json:"time_max"`
	Sources  []string `json:"sources"`
}

func runUV(ctx context.Context, cmd *cli.Command) error {
	path, err := datasetArg(cmd)
	if err != nil {
		return err
	}
	uv, err := uvio.Open(path, "old")
	if err != nil {
		return err
	}
	defer uv.Close()

	report := uvReport{Path: path}
	seen := make(map[string]bool)
	preamble := make([]float64, 4)
	data := make([]complex64, 65536)
	flags := make([]int32, 65536)
	for {
		n, rerr := uv.Read(preamble, data, flags, len(data))
		if rerr != nil {
			return rerr
		}
		if n == 0 {
			break
		}
		report.Records++
		if n > report.Channels {
			report.Channels = n
		}
		for _, f := range flags[:n] {
			if f == 0 {
				report.Flagged++
			}
		}
		t := preamble[2]
		if report.TimeMin == 0 || t < report.TimeMin {
			report.TimeMin = t
		}
		if t > report.TimeMax {
			report.TimeMax = t
		}
		source, serr := uv.GetVarFirstString("source", "")
		if serr != nil {
			return serr
		}
		if source != "" && !seen[source] {
			seen[source] = true
			report.Sources = append(report.Sources, source)
		}
	}
	return emit(cmd, report, func() {
		fmt.Println(path)
		fmt.Printf("  records:  %d\n", report.Records)
		fmt.Printf("  channels: %d\n", report.Channels)
		fmt.Printf("  flagged:  %d\n", report.Flagged)
		fmt.Printf("  time:     %.6f .. %.6f\n", report.TimeMin, report.TimeMax)
		fmt.Printf("  sources:  %v\n", report.Sources)
	})
}
