package main

import (
	"encoding/hex"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/namsral/flag"

	"github.com/akhenakh/raingarden/gw"
	"github.com/akhenakh/raingarden/telemetry"
)

var (
	addr     = flag.String("addr", "localhost:1700", "Addr to sent the packet to")
	registry = flag.String("registry", "devices.yaml", "device registry")
	devAddr  = flag.String("devAddr", "26011B2C", "device address to send as")
	fCnt     = flag.Uint("fCnt", 1, "frame counter")
	gwEUI    = flag.String("gwEUI", "B827EBFFFE6C2F4A", "gateway EUI")
)

func main() {
	flag.Parse()

	reg, err := gw.LoadRegistryFile(*registry)
	if err != nil {
		log.Fatal(err)
	}
	dev, err := reg.LookupAddr(*devAddr)
	if err != nil {
		log.Fatal(err)
	}

	var gwID [8]byte
	b, err := hex.DecodeString(*gwEUI)
	if err != nil || len(b) != len(gwID) {
		log.Fatal("invalid gateway EUI ", *gwEUI)
	}
	copy(gwID[:], b)

	payload := telemetry.EncodePayload(telemetry.Reading{
		Flags:            telemetry.FlagVbat | telemetry.FlagTPH | telemetry.FlagWater | telemetry.FlagSoilTH,
		Vbat:             3.6 + rand.Float64()*0.4,
		AirTemperature:   15 + rand.Float64()*10,
		AirPressure:      1000 + rand.Float64()*30,
		AirHumidity:      30 + rand.Float64()*40,
		WaterTemperature: 12 + rand.Float64()*8,
		SoilTemperature:  10 + rand.Float64()*8,
		SoilHumidity:     40 + rand.Float64()*50,
	})

	frame, err := gw.EncodeFrame(dev, uint32(*fCnt), 1, payload)
	if err != nil {
		log.Fatal(err)
	}

	p, err := gw.PushData([2]byte{byte(rand.Intn(256)), byte(rand.Intn(256))}, gwID, gw.RXPacket{
		Time: time.Now().UTC(),
		Tmst: uint32(time.Now().UnixNano() / 1000),
		Chan: 2,
		Freq: 904.3,
		Stat: 1,
		Modu: "LORA",
		Datr: []byte(`"SF7BW125"`),
		Codr: "4/5",
		Rssi: -63,
		Lsnr: 10.5,
		Size: len(frame),
		Data: frame,
	})
	if err != nil {
		log.Fatal(err)
	}

	raddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if _, err = conn.Write(p); err != nil {
		log.Fatal(err)
	}
	log.Println("sent", len(p), "bytes", "payload", hex.EncodeToString(payload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ack := make([]byte, 4)
	n, err := conn.Read(ack)
	if err != nil {
		log.Fatal("no ack ", err)
	}
	log.Println("ack", hex.EncodeToString(ack[:n]))
}
