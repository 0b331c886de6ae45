package raingarden

import (
	"encoding/json"
	"testing"

	"github.com/TheThingsNetwork/ttn/core/types"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/raingarden/telemetry"
)

// uplink as published by the TTN MQTT broker, with the payload function decoding the fields
const ttnUplinkJSON = `{
  "app_id": "raingarden",
  "dev_id": "raingarden-node",
  "hardware_serial": "00000000688e64e5",
  "port": 1,
  "counter": 48,
  "payload_raw": "ET1//xg0AP04AAAWsRj2/w==",
  "payload_fields": {
    "air_humidity": 21.875,
    "air_pressure": 1012,
    "air_temperature": 24.203125,
    "ambient_light": 0,
    "packet_type": 17,
    "soil_humidity": 99.609375,
    "soil_temperature": 24.9609375,
    "vbat": 7.999755859375,
    "water_temperature": 22.69140625
  },
  "metadata": {
    "time": "2016-12-02T20:31:52.429859147Z",
    "frequency": 904.3,
    "modulation": "LORA",
    "data_rate": "SF7BW125",
    "coding_rate": "4/5",
    "gateways": [
      {
        "gtw_id": "eui-8dedc7f4bf59aa10",
        "timestamp": 4143630827,
        "channel": 2,
        "rssi": -63,
        "snr": 10.5,
        "rf_chain": 0,
        "latitude": 40.68539,
        "longitude": -73.98869,
        "altitude": 15
      },
      {
        "gtw_id": "eui-b827ebfffe6c2f4a",
        "timestamp": 12,
        "channel": 1,
        "rssi": -110,
        "snr": -4,
        "rf_chain": 1
      }
    ]
  }
}`

func parseTTNUplink(t *testing.T, raw string) *types.UplinkMessage {
	var msg types.UplinkMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return &msg
}

func TestFromTTN(t *testing.T) {
	up, err := FromTTN(parseTTNUplink(t, ttnUplinkJSON), false)
	require.NoError(t, err)

	require.Equal(t, "00000000688E64E5", up.DevEUI)
	require.Equal(t, uint32(48), up.Counter)
	require.Equal(t, uint8(1), up.Port)
	require.Equal(t, "ET1//xg0AP04AAAWsRj2/w==", up.Payload)
	require.Equal(t, "ET1//xg0AP04AAAWsRj2/w==", up.Fields.Payload)
	require.Equal(t, telemetry.PacketTypeSensor, up.Fields.PacketType)
	require.Equal(t, 21.875, up.Fields.AirHumidity)

	require.Equal(t, 2, up.Metadata.Len())
	m := up.Metadata.Entries[0]
	require.Equal(t, "8DEDC7F4BF59AA10", m.GatewayEUI)
	require.Equal(t, "2016-12-02T20:31:52.429859147Z", m.ServerTime)
	require.Equal(t, uint32(4143630827), m.GatewayTimestamp)
	require.Equal(t, 2, m.Channel)
	require.Equal(t, -63.0, m.RSSI)
	require.Equal(t, 10.5, m.LSNR)
	require.Equal(t, 1, m.CRC)
	require.Equal(t, "SF7BW125", m.Datarate)
	require.Equal(t, "4/5", m.Codingrate)
	require.Equal(t, "LORA", m.Modulation)
	require.NotNil(t, m.Altitude)
	require.Equal(t, 15.0, *m.Altitude)

	m = up.Metadata.Entries[1]
	require.Equal(t, "B827EBFFFE6C2F4A", m.GatewayEUI)
	require.Nil(t, m.Latitude)

	rec, err := telemetry.Flatten(up)
	require.NoError(t, err)
	require.Equal(t, "8DEDC7F4BF59AA10", rec.GatewayEUI)
}

func TestFromTTNDecodeRaw(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ttnUplinkJSON), &raw))
	delete(raw, "payload_fields")
	b, err := json.Marshal(raw)
	require.NoError(t, err)

	up, err := FromTTN(parseTTNUplink(t, string(b)), false)
	require.NoError(t, err)
	require.Equal(t, 0, up.Fields.PacketType)
	require.Equal(t, up.Payload, up.Fields.Payload)

	up, err = FromTTN(parseTTNUplink(t, string(b)), true)
	require.NoError(t, err)
	require.Equal(t, telemetry.PacketTypeSensor, up.Fields.PacketType)
	require.InDelta(t, 24.203125, up.Fields.AirTemperature, 0.0001)
	require.Equal(t, 1012.0, up.Fields.AirPressure)
}

func TestGatewayEUI(t *testing.T) {
	require.Equal(t, "B827EBFFFE6C2F4A", GatewayEUI("eui-b827ebfffe6c2f4a"))
	require.Equal(t, "MYGW", GatewayEUI("mygw"))
}
