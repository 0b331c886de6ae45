package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	ttnsdk "github.com/TheThingsNetwork/go-app-sdk"
	"github.com/namsral/flag"

	"github.com/akhenakh/raingarden"
)

const appName = "ttncli"

var (
	appID           = flag.String("appID", "raingarden", "The things network application ID")
	appAccessKey    = flag.String("appAccessKey", "", "The things network access key")
	discoveryServer = flag.String("discoveryServer", "", "The things network discovery server address, community one if empty")
)

func main() {
	flag.Parse()

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	config := ttnsdk.NewCommunityConfig(appName)
	config.ClientVersion = "1.0"
	if *discoveryServer != "" {
		config.DiscoveryServerAddress = *discoveryServer
	}

	client := config.NewClient(*appID, *appAccessKey)
	defer client.Close()

	// Start Publish/Subscribe client (MQTT)
	pubsub, err := client.PubSub()
	if err != nil {
		log.Fatal("can't get pub/sub", err)
	}

	allDevicesPubSub := pubsub.AllDevices()
	defer allDevicesPubSub.Close()

	msgs, err := allDevicesPubSub.SubscribeUplink()
	if err != nil {
		log.Fatal("can't subscribe to uplinks", err)
	}

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Println("unsubscribe from all devices")
				if err = allDevicesPubSub.UnsubscribeUplink(); err != nil {
					log.Fatal("can't unsubscribe from uplink msg", err)
				}
				return
			case msg := <-msgs:
				if msg == nil {
					continue
				}
				log.Println("received msg", "dev_id", msg.DevID, "data", hex.EncodeToString(msg.PayloadRaw))

				up, err := raingarden.FromTTN(msg, true)
				if err != nil {
					log.Println("can't convert msg", err)
					continue
				}
				b, _ := json.MarshalIndent(up, "", "  ")
				log.Println(string(b))
			}
		}
	}()

	<-interrupt
	cancel()
}
