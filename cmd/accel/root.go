package accel

import (
	"context"
	"fmt"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/levelkv/cmd/util"
	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/engine"
	"github.com/ValentinKolb/levelkv/lib/host"
	"github.com/ValentinKolb/levelkv/lib/store"
	"github.com/ValentinKolb/levelkv/lib/store/hstore"
	"github.com/ValentinKolb/levelkv/lib/store/lstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	accelConfig = engine.DefaultConfig()
	accelEngine *engine.Engine
	accelStore  store.IStore
	// hostStore is only set when the host runs in-process (--transport=mem)
	hostStore store.IStore

	shutdown = func() {}

	// AccelCommands represents the accelerator command group
	AccelCommands = &cobra.Command{
		Use:   "accel",
		Short: "Run the levelkv accelerator against a host",
		Long: `Run the levelkv accelerator. It connects to the host's control channel, imports the exported table
and runs the given command. With --transport=mem an in-process host is started instead.
The format of the environment variables is LEVELKV_<flag> (e.g. LEVELKV_CACHE_SIZE=1024)`,
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: closeEngine,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupTableFlags(AccelCommands)

	key := "cache-size"
	AccelCommands.PersistentFlags().Int(key, accelConfig.CacheSize, util.WrapString("Number of bucket frames held by the accelerator"))

	key = "max-load-factor"
	AccelCommands.PersistentFlags().Float64(key, accelConfig.MaxLoadFactor, util.WrapString("Load factor at which the table is expanded (with auto-expand)"))

	key = "auto-expand"
	AccelCommands.PersistentFlags().Bool(key, accelConfig.AutoExpand, util.WrapString("Expand the table when the load factor is reached or all candidate buckets of a key are full"))

	key = "expand-timeout"
	AccelCommands.PersistentFlags().Duration(key, accelConfig.Timeout, util.WrapString("How long to wait for the host during the handshake and an expansion"))

	// Add subcommands
	AccelCommands.AddCommand(setCmd)
	AccelCommands.AddCommand(updateCmd)
	AccelCommands.AddCommand(getCmd)
	AccelCommands.AddCommand(delCmd)
	AccelCommands.AddCommand(hasCmd)
	AccelCommands.AddCommand(expandCmd)
	AccelCommands.AddCommand(infoCmd)
	AccelCommands.AddCommand(shellCmd)
	AccelCommands.AddCommand(perfTestCmd)
}

// setupEngine connects to the host and opens the engine
func setupEngine(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	accelConfig.Level = viper.GetUint64("level")
	accelConfig.Partitions = viper.GetInt("partitions")
	accelConfig.Hasher = viper.GetString("hasher")
	accelConfig.CacheSize = viper.GetInt("cache-size")
	accelConfig.MaxLoadFactor = viper.GetFloat64("max-load-factor")
	accelConfig.AutoExpand = viper.GetBool("auto-expand")
	accelConfig.Timeout = viper.GetDuration("expand-timeout")
	if _, err := accelConfig.Validate(); err != nil {
		return err
	}

	backend, err := util.GetBackend()
	if err != nil {
		return err
	}
	codec, err := util.GetCodec()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := vm.NewSet()

	var ch comch.Channel
	var embedded *host.Host
	if viper.GetString("transport") == "mem" {
		embedded, err = host.New(host.Config{
			Level:      accelConfig.Level,
			Partitions: accelConfig.Partitions,
			Hasher:     accelConfig.Hasher,
		}, backend, metrics)
		if err != nil {
			cancel()
			return err
		}
		var hostEnd comch.Channel
		hostEnd, ch = comch.NewPipe(codec)
		go embedded.Serve(ctx, hostEnd)
		hostStore = hstore.NewHostStore(embedded)
	} else {
		dialCtx, dialCancel := context.WithTimeout(ctx, accelConfig.Timeout)
		ch, err = comch.Dial(dialCtx, viper.GetString("comch"), viper.GetString("endpoint"), codec)
		dialCancel()
		if err != nil {
			cancel()
			return err
		}
	}

	accelEngine, err = engine.Open(ctx, accelConfig, ch, backend, engine.WithMetrics(metrics))
	if err != nil {
		cancel()
		if embedded != nil {
			embedded.Close()
		}
		return err
	}
	accelStore = lstore.NewLocalStore(accelEngine)
	util.ServeMetrics(ctx, metrics)

	shutdown = func() {
		cancel()
		if embedded != nil {
			embedded.Close()
		}
	}
	return nil
}

// closeEngine flushes the table and tells the host the accelerator is done
func closeEngine(_ *cobra.Command, _ []string) error {
	defer shutdown()
	if accelStore == nil {
		return nil
	}
	start := time.Now()
	if err := accelStore.Close(); err != nil {
		return err
	}
	fmt.Printf("flushed and closed in %s\n", time.Since(start).Round(time.Microsecond))
	return nil
}
