package chart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akhenakh/raingarden/telemetry"
)

type memRepo []telemetry.Record

func (m memRepo) QueryAll(ctx context.Context) ([]telemetry.Record, error) {
	res := make([]telemetry.Record, len(m))
	copy(res, m)
	return res, nil
}

type failRepo struct{}

func (failRepo) QueryAll(ctx context.Context) ([]telemetry.Record, error) {
	return nil, errors.New("boom")
}

func TestBuild(t *testing.T) {
	repo := memRepo{
		{DevEUI: "A", ServerTime: "2016-12-02T20:31:52.429859147Z", AirHumidity: 21.875, AirPressure: 1012.9},
		{DevEUI: "A", ServerTime: "2016-12-02T21:31:52.429859147Z", AirHumidity: 30.5, AirPressure: 1013.2},
	}

	def, ok := Lookup("air-humidity")
	require.True(t, ok)
	tbl, err := Build(context.Background(), repo, def, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	b, err := json.Marshal(tbl)
	require.NoError(t, err)
	require.JSONEq(t, `[["Time","Air Humidity"],["20:31 +00:00",21.875],["21:31 +00:00",30.5]]`, string(b))

	def, ok = Lookup("air-pressure")
	require.True(t, ok)
	tbl, err = Build(context.Background(), repo, def, time.UTC)
	require.NoError(t, err)
	b, err = json.Marshal(tbl)
	require.NoError(t, err)
	require.JSONEq(t, `[["Time","Air Pressure"],["20:31 +00:00",1012],["21:31 +00:00",1013]]`, string(b))
}

func TestBuildLocation(t *testing.T) {
	repo := memRepo{{ServerTime: "2016-12-02T20:31:52Z"}}
	loc := time.FixedZone("EST", -5*3600)

	def, _ := Lookup("vbat")
	tbl, err := Build(context.Background(), repo, def, loc)
	require.NoError(t, err)
	require.Equal(t, "15:31 -05:00", tbl.Rows[0].Time)
}

func TestBuildInvalidTime(t *testing.T) {
	repo := memRepo{{ServerTime: ""}, {ServerTime: "yesterday"}}
	def, _ := Lookup("rssi")
	tbl, err := Build(context.Background(), repo, def, time.UTC)
	require.NoError(t, err)
	require.Equal(t, InvalidTime, tbl.Rows[0].Time)
	require.Equal(t, InvalidTime, tbl.Rows[1].Time)
}

func TestBuildError(t *testing.T) {
	def, _ := Lookup("vbat")
	_, err := Build(context.Background(), failRepo{}, def, time.UTC)
	require.Error(t, err)
}

func TestRowNull(t *testing.T) {
	b, err := json.Marshal(Row{Time: "20:31 +00:00"})
	require.NoError(t, err)
	require.JSONEq(t, `["20:31 +00:00",null]`, string(b))
}

func TestBuildMissingGeo(t *testing.T) {
	repo := memRepo{{ServerTime: "2016-12-02T20:31:52Z"}}
	tbl, err := Build(context.Background(), repo, Definition{Label: "Latitude", Field: "latitude"}, time.UTC)
	require.NoError(t, err)
	require.False(t, tbl.Rows[0].Valid)
}

func TestCoercion(t *testing.T) {
	require.Equal(t, 1012.0, Int.Apply(1012.9))
	require.Equal(t, -63.0, Int.Apply(-63.7))
	require.Equal(t, 1012.9, Float.Apply(1012.9))
}

func TestLookup(t *testing.T) {
	for _, d := range Definitions {
		got, ok := Lookup(d.Name)
		require.True(t, ok)
		require.Equal(t, d, got)
	}
	_, ok := Lookup("nope")
	require.False(t, ok)
}

func TestDeviceFilter(t *testing.T) {
	repo := memRepo{{DevEUI: "A", Counter: 1}, {DevEUI: "B", Counter: 2}, {DevEUI: "A", Counter: 3}}
	recs, err := DeviceFilter{Repository: repo, DevEUI: "A"}.QueryAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint32(1), recs[0].Counter)
	require.Equal(t, uint32(3), recs[1].Counter)
}
