package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/common"
	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/transport/mem"
	"github.com/ValentinKolb/levelkv/lib/transport/shm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags & Config
// --------------------------------------------------------------------------

// SetupTableFlags adds the flags shared by host and accelerator
func SetupTableFlags(cmd *cobra.Command) {
	key := "level"
	cmd.PersistentFlags().Uint64(key, 10, WrapString("Level of the table (>= 3). The top level holds 2^level buckets, the bottom level half as many. Host and accelerator must agree"))

	key = "partitions"
	cmd.PersistentFlags().Int(key, 2, WrapString("Number of transport partitions per level (power of two)"))

	key = "hasher"
	cmd.PersistentFlags().String(key, "siphash", WrapString("Hash function for the two candidate hashes (siphash, xxhash, fnv)"))

	key = "transport"
	cmd.PersistentFlags().String(key, "shm", WrapString("Remote memory transport (shm, mem). mem only works with an in-process host"))

	key = "shm-dir"
	cmd.PersistentFlags().String(key, "", WrapString("Directory for shared memory segments (default /dev/shm if present, else the temp dir)"))

	key = "comch"
	cmd.PersistentFlags().String(key, "unix", WrapString("Network of the control channel (unix, tcp)"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "/tmp/levelkv.sock", WrapString("Address of the control channel (e.g. /tmp/levelkv.sock, localhost:7070)"))

	key = "codec"
	cmd.PersistentFlags().String(key, "binary", WrapString("Codec of the control channel (binary, msgpack, json)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Level at which logs will be output (debug, info, warn, error)"))

	key = "metrics-endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("If set, serve Prometheus metrics on this address (e.g. localhost:9100)"))
}

// InitConfig loads .env files and binds environment variables (LEVELKV_<FLAG>)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("levelkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper and initializes the loggers
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// GetCodec creates the control channel codec based on configuration
func GetCodec() (comch.ICodec, error) {
	return comch.NewCodec(viper.GetString("codec"))
}

// GetBackend creates the remote memory transport based on configuration
func GetBackend() (transport.Backend, error) {
	switch viper.GetString("transport") {
	case "shm":
		return shm.NewBackend(viper.GetString("shm-dir")), nil
	case "mem":
		return mem.NewBackend(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// ServeMetrics serves set in Prometheus text format on the configured
// metrics endpoint until ctx is done. It does nothing if no endpoint is set.
func ServeMetrics(ctx context.Context, set *vm.Set) {
	endpoint := viper.GetString("metrics-endpoint")
	if endpoint == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		set.WritePrometheus(w)
		vm.WriteProcessMetrics(w)
	})
	srv := &http.Server{Addr: endpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("metrics endpoint %s failed: %v\n", endpoint, err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	fmt.Printf("serving metrics on http://%s/metrics\n", endpoint)
}
