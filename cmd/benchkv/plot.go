package main

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// renderFootprintChart reads csvPath's "Footprint_SteadyState" rows and
// draws a per-structure memory-footprint bar chart to pngPath. The source
// never wired gonum.org/v1/plot to anything despite carrying it in go.mod;
// this is where it earns its keep.
func renderFootprintChart(csvPath, pngPath string) error {
	names, values, err := readFootprintRows(csvPath)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("benchkv: no Footprint_SteadyState rows to plot")
	}

	p := plot.New()
	p.Title.Text = "Steady-state memory footprint by structure"
	p.Y.Label.Text = "Allocated MB"

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return errors.Wrap(err, "benchkv: new bar chart")
	}
	bars.Color = plotter.DefaultLineStyle.Color
	p.Add(bars)
	p.NominalX(names...)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, pngPath); err != nil {
		return errors.Wrap(err, "benchkv: save chart")
	}
	return nil
}

func readFootprintRows(csvPath string) ([]string, plotter.Values, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "benchkv: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, "benchkv: read csv")
	}

	var names []string
	var values plotter.Values
	for _, row := range rows {
		if len(row) < 5 || row[2] != "Footprint_SteadyState" {
			continue
		}
		mb, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			continue
		}
		names = append(names, row[0])
		values = append(values, mb)
	}
	return names, values, nil
}
