// Package chart builds two column time series tables out of stored records,
// ready to be handed to a charting library.
package chart

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/akhenakh/raingarden/telemetry"
)

// TimeLayout renders hours, minutes and the zone offset, e.g. "20:31 +00:00".
const TimeLayout = "15:04 -07:00"

// InvalidTime replaces times that can't be parsed.
const InvalidTime = "Invalid date"

// Coercion converts a raw field value for display.
type Coercion int

const (
	Float Coercion = iota
	// Int truncates toward zero.
	Int
)

func (c Coercion) Apply(v float64) float64 {
	if c == Int {
		return math.Trunc(v)
	}
	return v
}

type Definition struct {
	Name   string   `json:"name"`
	Label  string   `json:"label"`
	Field  string   `json:"field"`
	Coerce Coercion `json:"-"`
}

var Definitions = []Definition{
	{Name: "air-humidity", Label: "Air Humidity", Field: "air_humidity", Coerce: Float},
	{Name: "air-pressure", Label: "Air Pressure", Field: "air_pressure", Coerce: Int},
	{Name: "air-temperature", Label: "Air Temperature", Field: "air_temperature", Coerce: Float},
	{Name: "soil-humidity", Label: "Soil Humidity", Field: "soil_humidity", Coerce: Float},
	{Name: "soil-temperature", Label: "Soil Temperature", Field: "soil_temperature", Coerce: Float},
	{Name: "water-temperature", Label: "Water Temperature", Field: "water_temperature", Coerce: Float},
	{Name: "ambient-light", Label: "Ambient Light", Field: "ambient_light", Coerce: Int},
	{Name: "vbat", Label: "Battery Voltage", Field: "vbat", Coerce: Float},
	{Name: "rssi", Label: "RSSI", Field: "rssi", Coerce: Int},
	{Name: "lsnr", Label: "SNR", Field: "lsnr", Coerce: Float},
}

func Lookup(name string) (Definition, bool) {
	for _, d := range Definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Row is a [time, value] pair, the value is null when the record lacks it.
type Row struct {
	Time  string
	Value float64
	Valid bool
}

func (r Row) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return json.Marshal([]interface{}{r.Time, nil})
	}
	return json.Marshal([]interface{}{r.Time, r.Value})
}

// Table is the header followed by the rows, marshaled as an array of arrays.
type Table struct {
	Header [2]string
	Rows   []Row
}

func (t *Table) MarshalJSON() ([]byte, error) {
	res := make([]interface{}, 0, len(t.Rows)+1)
	res = append(res, t.Header)
	for _, r := range t.Rows {
		res = append(res, r)
	}
	return json.Marshal(res)
}

// Len returns the number of rows including the header.
func (t *Table) Len() int {
	return len(t.Rows) + 1
}

// Repository returns every stored record in document order.
type Repository interface {
	QueryAll(ctx context.Context) ([]telemetry.Record, error)
}

// Build queries repo and maps each record to a row, keeping the repository order.
// Times are rendered in loc, time.Local when nil.
func Build(ctx context.Context, repo Repository, def Definition, loc *time.Location) (*Table, error) {
	recs, err := repo.QueryAll(ctx)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	t := &Table{
		Header: [2]string{"Time", def.Label},
		Rows:   make([]Row, len(recs)),
	}
	for i := range recs {
		rec := &recs[i]
		row := Row{Time: FormatTime(rec, loc)}
		if v, ok := rec.Value(def.Field); ok {
			row.Value = def.Coerce.Apply(v)
			row.Valid = true
		}
		t.Rows[i] = row
	}
	return t, nil
}

func FormatTime(rec *telemetry.Record, loc *time.Location) string {
	ts, err := rec.Time()
	if err != nil {
		return InvalidTime
	}
	return ts.In(loc).Format(TimeLayout)
}

// DeviceFilter restricts a Repository to one device.
type DeviceFilter struct {
	Repository
	DevEUI string
}

func (f DeviceFilter) QueryAll(ctx context.Context) ([]telemetry.Record, error) {
	recs, err := f.Repository.QueryAll(ctx)
	if err != nil {
		return nil, err
	}
	res := recs[:0]
	for _, r := range recs {
		if r.DevEUI == f.DevEUI {
			res = append(res, r)
		}
	}
	return res, nil
}
