package raingarden

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TheThingsNetwork/ttn/core/types"

	"github.com/akhenakh/raingarden/telemetry"
)

// ttnUplink mirrors the fields of the TTN v2 uplink we relay.
type ttnUplink struct {
	HardwareSerial string          `json:"hardware_serial"`
	DevID          string          `json:"dev_id"`
	Port           uint8           `json:"port"`
	Counter        uint32          `json:"counter"`
	PayloadRaw     []byte          `json:"payload_raw"`
	PayloadFields  json.RawMessage `json:"payload_fields"`
	Metadata       struct {
		Time       string  `json:"time"`
		Frequency  float64 `json:"frequency"`
		Modulation string  `json:"modulation"`
		DataRate   string  `json:"data_rate"`
		CodingRate string  `json:"coding_rate"`
		Gateways   []struct {
			GtwID     string   `json:"gtw_id"`
			Timestamp uint32   `json:"timestamp"`
			Time      string   `json:"time"`
			Channel   int      `json:"channel"`
			RSSI      float64  `json:"rssi"`
			SNR       float64  `json:"snr"`
			RFChain   int      `json:"rf_chain"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Altitude  *float64 `json:"altitude"`
		} `json:"gateways"`
	} `json:"metadata"`
}

// FromTTN converts a TTN uplink into an UplinkMessage, one metadata entry per gateway.
// When the application has no payload function, decodeRaw decodes payload_raw as a sensor frame.
func FromTTN(msg *types.UplinkMessage, decodeRaw bool) (*telemetry.UplinkMessage, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var up ttnUplink
	if err := json.Unmarshal(b, &up); err != nil {
		return nil, err
	}

	res := &telemetry.UplinkMessage{
		DevEUI:  strings.ToUpper(up.HardwareSerial),
		Counter: up.Counter,
		Port:    up.Port,
	}
	if len(up.PayloadRaw) > 0 {
		res.Payload = base64.StdEncoding.EncodeToString(up.PayloadRaw)
	}

	switch {
	case hasFields(up.PayloadFields):
		if err := json.Unmarshal(up.PayloadFields, &res.Fields); err != nil {
			return nil, fmt.Errorf("can't read payload fields: %w", err)
		}
		if res.Fields.Payload == "" {
			res.Fields.Payload = res.Payload
		}
	case decodeRaw && len(up.PayloadRaw) > 0:
		f, err := telemetry.DecodePayload(up.PayloadRaw)
		if err != nil {
			return nil, fmt.Errorf("can't decode raw payload: %w", err)
		}
		res.Fields = f
	default:
		res.Fields.Payload = res.Payload
	}

	entries := make([]telemetry.Metadata, len(up.Metadata.Gateways))
	for i, gw := range up.Metadata.Gateways {
		entries[i] = telemetry.Metadata{
			Frequency:        up.Metadata.Frequency,
			Datarate:         up.Metadata.DataRate,
			Codingrate:       up.Metadata.CodingRate,
			GatewayTimestamp: gw.Timestamp,
			Channel:          gw.Channel,
			ServerTime:       up.Metadata.Time,
			RSSI:             gw.RSSI,
			LSNR:             gw.SNR,
			RFChain:          gw.RFChain,
			CRC:              1,
			Modulation:       up.Metadata.Modulation,
			GatewayEUI:       GatewayEUI(gw.GtwID),
			Altitude:         gw.Altitude,
			Longitude:        gw.Longitude,
			Latitude:         gw.Latitude,
		}
	}
	res.Metadata = telemetry.NewMetadataList(entries...)

	return res, nil
}

// GatewayEUI turns a TTN gateway id like "eui-b827ebfffe6c2f4a" into the bare upper-cased EUI.
func GatewayEUI(gtwID string) string {
	return strings.ToUpper(strings.TrimPrefix(gtwID, "eui-"))
}

func hasFields(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "{}"
}
