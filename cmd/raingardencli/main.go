package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	_ "github.com/mbobakov/grpc-consul-resolver"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/balancer/roundrobin"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/raingarden/chart"
	"github.com/akhenakh/raingarden/forwarder"
	"github.com/akhenakh/raingarden/storage"
	"github.com/akhenakh/raingarden/telemetry"
)

var (
	apiURL  string
	timeout time.Duration
	verbose bool

	logger log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "raingardencli",
	Short: "Query a raingardend instance",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		if verbose {
			logger = level.NewFilter(logger, level.AllowDebug())
		} else {
			logger = level.NewFilter(logger, level.AllowWarn())
		}
	},
}

var healthCmd = &cobra.Command{
	Use:   "health [target]",
	Short: "Check the gRPC health of a service",
	Long: `Check the gRPC health of a service, target is host:port or consul://host:port/service
for services registered in consul.`,
	Args: cobra.ExactArgs(1),
	RunE: runHealth,
}

var service string

var chartCmd = &cobra.Command{
	Use:     "chart [name]",
	Aliases: []string{"c"},
	Short:   "Print a chart table",
	Args:    cobra.ExactArgs(1),
	RunE:    runChart,
}

var device string

var chartsCmd = &cobra.Command{
	Use:   "charts",
	Short: "List the available charts",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "NAME\tLABEL\tFIELD")
		for _, d := range chart.Definitions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Label, d.Field)
		}
	},
}

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"d"},
	Short:   "List the devices with stored data",
	RunE:    runDevices,
}

var dataCmd = &cobra.Command{
	Use:   "data [devEUI]",
	Short: "Print the latest documents of a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runData,
}

var count int

var sendSampleCmd = &cobra.Command{
	Use:   "send-sample",
	Short: "Post the sample uplink to the ingestion endpoint",
	RunE:  runSendSample,
}

var token string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:9201", "raingardend API URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")

	healthCmd.Flags().StringVar(&service, "service", "grpc.health.v1.raingardend", "service name to check")
	chartCmd.Flags().StringVar(&device, "device", "", "restrict to a device EUI")
	dataCmd.Flags().IntVar(&count, "count", 10, "number of documents")
	sendSampleCmd.Flags().StringVar(&token, "token", "", "bearer token")

	rootCmd.AddCommand(healthCmd, chartCmd, chartsCmd, devicesCmd, dataCmd, sendSampleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, args[0],
		grpc.WithInsecure(),
		grpc.WithBalancerName(roundrobin.Name), //nolint:staticcheck
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	fmt.Println(resp.Status)
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", service, resp.Status)
	}
	return nil
}

func getJSON(path string, v interface{}) error {
	client := &http.Client{Timeout: timeout}
	level.Debug(logger).Log("msg", "querying", "url", apiURL+path)
	resp, err := client.Get(apiURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, b)
	}
	return json.Unmarshal(b, v)
}

func runChart(cmd *cobra.Command, args []string) error {
	path := "/api/charts/" + url.PathEscape(args[0])
	if device != "" {
		path += "?device=" + url.QueryEscape(device)
	}
	var rows [][]interface{}
	if err := getJSON(path, &rows); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	for _, r := range rows {
		if len(r) != 2 {
			continue
		}
		v := r[1]
		if v == nil {
			v = "-"
		}
		fmt.Fprintf(w, "%v\t%v\n", r[0], v)
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	var devs []string
	if err := getJSON("/api/devices", &devs); err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Println("No devices found.")
		return nil
	}
	for _, d := range devs {
		fmt.Println(d)
	}
	return nil
}

func runData(cmd *cobra.Command, args []string) error {
	var docs []storage.Document
	path := fmt.Sprintf("/api/data/%s?count=%d", url.PathEscape(args[0]), count)
	if err := getJSON(path, &docs); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tSERVER TIME\tCOUNTER\tAIR °C\tAIR %\tSOIL °C\tSOIL %\tWATER °C\tVBAT")
	for _, d := range docs {
		r := d.Record
		if r == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.1f\t%.2f\t%.1f\t%.2f\t%.2f\n",
			d.ID, r.ServerTime, r.Counter,
			r.AirTemperature, r.AirHumidity,
			r.SoilTemperature, r.SoilHumidity,
			r.WaterTemperature, r.Vbat,
		)
	}
	return nil
}

func runSendSample(cmd *cobra.Command, args []string) error {
	var msg telemetry.UplinkMessage
	if err := json.Unmarshal([]byte(telemetry.SampleUplinkJSON), &msg); err != nil {
		return err
	}

	fwd := forwarder.NewForwarder(level.NewFilter(log.NewLogfmtLogger(os.Stdout), level.AllowInfo()), forwarder.Config{
		URL:     apiURL + "/ttnTest",
		Token:   token,
		Timeout: timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fwd.Forward(ctx, &msg)
}
