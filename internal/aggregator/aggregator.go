// Package aggregator turns measurement rows into chart points and per-metric statistics.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
)

// LabelLayout renders a point's time as e.g. "Oct 15, 03:04 PM"
const LabelLayout = "Jan 2, 03:04 PM"

// Point is one chart sample. Missing metrics are 0.
type Point struct {
	Time        string    `json:"time"`
	At          time.Time `json:"at"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	DewPoint    float64   `json:"dewPoint"`
}

// Stats summarizes one metric over the loaded rows
type Stats struct {
	Average float64 `json:"average"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Count   int     `json:"count"`
}

// Result is the chart-ready form of a measurement set
type Result struct {
	Points      []Point `json:"points"`
	Temperature Stats   `json:"temperature"`
	Humidity    Stats   `json:"humidity"`
	DewPoint    Stats   `json:"dewPoint"`
}

// Domain is an inclusive y-axis range
type Domain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type accumulator struct {
	sum, high, low float64
	n              int
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v > a.high {
		a.high = v
	}
	if a.n == 0 || v < a.low {
		a.low = v
	}
	a.sum += v
	a.n++
}

func (a accumulator) stats() Stats {
	if a.n == 0 {
		return Stats{}
	}
	return Stats{Average: a.sum / float64(a.n), High: a.high, Low: a.low, Count: a.n}
}

// Aggregate builds chart points and statistics for rows. Rows are placed in
// ascending time order first; labels use loc (UTC when nil).
// Temperature counts on every row; humidity and dew point only where reported and non-zero.
func Aggregate(rows []model.Measurement, loc *time.Location) Result {
	if loc == nil {
		loc = time.UTC
	}

	ordered := make([]model.Measurement, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DateTime.Before(ordered[j].DateTime)
	})

	res := Result{Points: make([]Point, 0, len(ordered))}
	var temp, hum, dew accumulator

	for _, m := range ordered {
		p := Point{
			Time:        m.DateTime.In(loc).Format(LabelLayout),
			At:          m.DateTime,
			Temperature: m.Temperature,
		}
		temp.add(m.Temperature)

		if m.Humidity != nil && *m.Humidity != 0 {
			p.Humidity = *m.Humidity
			hum.add(*m.Humidity)
		}
		if m.DewPoint != nil && *m.DewPoint != 0 {
			p.DewPoint = *m.DewPoint
			dew.add(*m.DewPoint)
		}
		res.Points = append(res.Points, p)
	}

	res.Temperature = temp.stats()
	res.Humidity = hum.stats()
	res.DewPoint = dew.stats()
	return res
}

// YDomain pads [low, high] by 5 on each side and widens it to multiples of 5.
func YDomain(low, high float64) Domain {
	return Domain{
		Min: math.Floor((low-5)/5) * 5,
		Max: math.Ceil((high+5)/5) * 5,
	}
}

// DomainFor spans the given stat blocks, ignoring blocks with no samples.
// With no samples at all it is the domain of [0, 0].
func DomainFor(blocks ...Stats) Domain {
	var acc accumulator
	for _, b := range blocks {
		if b.Count == 0 {
			continue
		}
		acc.add(b.Low)
		acc.add(b.High)
	}
	return YDomain(acc.low, acc.high)
}
