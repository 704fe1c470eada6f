// Package commands 定义 espctl 的 cobra 子命令。
package commands

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"espdata/internal/client"
)

type rootOptions struct {
	baseURL   string
	deviceKey string
	timeout   time.Duration
	retries   int
	debug     bool
}

func (o *rootOptions) client() (*client.Client, error) {
	return client.New(client.Options{
		BaseURL:   o.baseURL,
		DeviceKey: o.deviceKey,
		Timeout:   o.timeout,
		Retries:   o.retries,
		Debug:     o.debug,
	})
}

// NewRootCmd 构建 espctl 根命令并注册全部子命令。
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "espctl",
		Short: "ESP galon data service CLI",
		Long: `espctl talks to the ESP galon data service over HTTP.
It can send readings the way a device does, query stored readings and
simulate a fleet of devices for load and smoke testing.

Defaults can be provided through the environment:
- ESP_BASE_URL
- ESP_DEVICE_KEY`,
		SilenceUsage: true,
	}
	base := os.Getenv("ESP_BASE_URL")
	if base == "" {
		base = "http://127.0.0.1:8080"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.baseURL, "base", base, "base URL of the service")
	pf.StringVar(&opts.deviceKey, "device-key", os.Getenv("ESP_DEVICE_KEY"), "shared device key sent as X-Device-Key")
	pf.DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP timeout")
	pf.IntVar(&opts.retries, "retries", 2, "retry count for transient failures")
	pf.BoolVar(&opts.debug, "debug", false, "dump HTTP requests and responses")

	root.AddCommand(
		newSendCmd(opts),
		newLatestCmd(opts),
		newListCmd(opts),
		newGalonsCmd(opts),
		newStatsCmd(opts),
		newReadyCmd(opts),
		newSimulateCmd(opts),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
