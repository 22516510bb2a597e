package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	vm "github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/ValentinKolb/levelkv/cmd/util"
	"github.com/ValentinKolb/levelkv/lib/comch"
	"github.com/ValentinKolb/levelkv/lib/host"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	hostCmdConfig = host.DefaultConfig()
	HostCmd       = &cobra.Command{
		Use:   "host",
		Short: "Start the levelkv host",
		Long: `Start the levelkv host. The host owns the table memory and exports it to one accelerator at a time.
The configuration can be set via command line flags or environment variables. The format of the environment variables is LEVELKV_<flag> (e.g. LEVELKV_LEVEL=12)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupTableFlags(HostCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the host configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	hostCmdConfig.Level = viper.GetUint64("level")
	hostCmdConfig.Partitions = viper.GetInt("partitions")
	hostCmdConfig.Hasher = viper.GetString("hasher")

	if viper.GetString("transport") == "mem" {
		return fmt.Errorf("the mem transport cannot cross process boundaries, use shm (or levelkv accel --transport=mem for an in-process host)")
	}
	return nil
}

// run serves accelerators one after another until interrupted
func run(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := cmdUtil.GetBackend()
	if err != nil {
		return err
	}
	codec, err := cmdUtil.GetCodec()
	if err != nil {
		return err
	}

	metrics := vm.NewSet()
	h, err := host.New(hostCmdConfig, backend, metrics)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Println(hostCmdConfig.String())
	cmdUtil.ServeMetrics(ctx, metrics)

	listener, err := comch.Listen(viper.GetString("comch"), viper.GetString("endpoint"), codec)
	if err != nil {
		return err
	}
	defer listener.Close()

	for {
		fmt.Printf("waiting for an accelerator on %s (table %s)\n", listener.Addr(), h.Layout())
		ch, err := listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		err = h.Serve(ctx, ch)
		ch.Close()
		if err != nil {
			fmt.Printf("accelerator session ended with error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
