package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/namsral/flag"

	"github.com/akhenakh/raingarden/gw"
	"github.com/akhenakh/raingarden/telemetry"
)

var (
	vbat      = flag.Float64("vbat", 3.7, "Battery voltage")
	airTemp   = flag.Float64("airTemp", 21.5, "Air temperature °C")
	airPres   = flag.Float64("airPressure", 1012, "Air pressure hPa")
	airHum    = flag.Float64("airHumidity", 45, "Air humidity %")
	lux       = flag.Float64("lux", 0, "Ambient light")
	waterTemp = flag.Float64("waterTemp", 18, "Water temperature °C")
	soilTemp  = flag.Float64("soilTemp", 16, "Soil temperature °C")
	soilHum   = flag.Float64("soilHumidity", 60, "Soil humidity %")

	registry = flag.String("registry", "", "device registry, when set also print the encrypted LoRaWAN frame")
	devAddr  = flag.String("devAddr", "", "device address in the registry to encrypt for")
	fCnt     = flag.Uint("fCnt", 1, "frame counter")
)

func main() {
	flag.Parse()

	b := telemetry.EncodePayload(telemetry.Reading{
		Flags:            telemetry.FlagVbat | telemetry.FlagTPH | telemetry.FlagLux | telemetry.FlagWater | telemetry.FlagSoilTH,
		Vbat:             *vbat,
		AirTemperature:   *airTemp,
		AirPressure:      *airPres,
		AirHumidity:      *airHum,
		AmbientLight:     *lux,
		WaterTemperature: *waterTemp,
		SoilTemperature:  *soilTemp,
		SoilHumidity:     *soilHum,
	})

	fmt.Println("Data", hex.EncodeToString(b))
	fmt.Println("Base64", base64.StdEncoding.EncodeToString(b))

	if *registry == "" {
		return
	}

	reg, err := gw.LoadRegistryFile(*registry)
	if err != nil {
		log.Fatal(err)
	}
	dev, err := reg.LookupAddr(*devAddr)
	if err != nil {
		log.Fatal(err)
	}

	frame, err := gw.EncodeFrame(dev, uint32(*fCnt), 1, b)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Frame", base64.StdEncoding.EncodeToString(frame))
}
