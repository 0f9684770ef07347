package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pulse/internal/cli"
	"pulse/internal/config"
	"pulse/internal/dummy"
	"pulse/internal/logging"
	"pulse/internal/safety"
	"pulse/internal/storage"
)

var (
	cfgFile string
	verbose bool

	// run flags
	target    string
	port      int
	protocol  string
	duration  int
	rateRPS   int
	timeout   int
	outPrefix string
	noHistory bool

	maxErrorRate   float64
	maxResponseSec float64
	minSuccessRate float64
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "pulse - controlled traffic generation with adaptive rate control",
	Long: `
pulse drives configurable request load (HTTP/HTTPS, TCP, UDP) against a
target for a bounded duration at a bounded rate, collects timing and status
telemetry, and backs off automatically when the target signals rate limiting
or starts degrading.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if target == "" {
			return fmt.Errorf("--target is required")
		}
		return runLoadTest()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(historyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pulse.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.Flags().StringVarP(&target, "target", "t", "", "target URL, hostname, or IP")
	rootCmd.Flags().IntVarP(&port, "port", "p", 80, "target port")
	rootCmd.Flags().StringVarP(&protocol, "protocol", "P", "http", "protocol: http, https, tcp, udp")
	rootCmd.Flags().IntVarP(&duration, "duration", "d", 60, "test duration in seconds")
	rootCmd.Flags().IntVarP(&rateRPS, "rate", "r", 100, "target requests per second")
	rootCmd.Flags().IntVar(&timeout, "timeout", 30, "HTTP timeout in seconds")
	rootCmd.Flags().StringVarP(&outPrefix, "out", "o", "", "output filename prefix for report files")
	rootCmd.Flags().BoolVar(&noHistory, "no-history", false, "skip saving the run to history")

	rootCmd.Flags().Float64Var(&maxErrorRate, "max-error-rate", 0.2, "error-rate fraction before throttling")
	rootCmd.Flags().Float64Var(&maxResponseSec, "max-response-time", 5.0, "average response-time ceiling in seconds")
	rootCmd.Flags().Float64Var(&minSuccessRate, "min-success-rate", 0.8, "success-rate fraction floor")

	viper.BindPFlag("target", rootCmd.Flags().Lookup("target"))
	viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("protocol", rootCmd.Flags().Lookup("protocol"))
	viper.BindPFlag("duration", rootCmd.Flags().Lookup("duration"))
	viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".pulse")
		}
	}
	viper.SetEnvPrefix("PULSE")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func runLoadTest() error {
	log, err := logging.New(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.New(
		viper.GetString("target"),
		viper.GetInt("port"),
		viper.GetString("protocol"),
		time.Duration(viper.GetInt("duration"))*time.Second,
		viper.GetInt("rate"),
	)
	if err != nil {
		return err
	}
	if timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	opts := cli.Options{
		OutPrefix: outPrefix,
		NoHistory: noHistory,
		Thresholds: safety.Thresholds{
			MaxErrorRate:    maxErrorRate,
			MaxResponseTime: time.Duration(maxResponseSec * float64(time.Second)),
			MinSuccessRate:  minSuccessRate,
			MinSamples:      10,
		},
	}

	return cli.Run(cfg, opts, log)
}

// --- target subcommand: local dummy server ---

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Run a local dummy target server (HTTP + TCP/UDP echo)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(verbose)
		if err != nil {
			return err
		}
		defer log.Sync()

		httpPort, _ := cmd.Flags().GetInt("http-port")
		tcpPort, _ := cmd.Flags().GetInt("tcp-port")
		udpPort, _ := cmd.Flags().GetInt("udp-port")
		limited, _ := cmd.Flags().GetInt("limited-rps")

		srv := dummy.New(dummy.ServerConfig{
			HTTPPort:   httpPort,
			TCPPort:    tcpPort,
			UDPPort:    udpPort,
			LimitedRPS: limited,
		}, log)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		select {}
	},
}

// --- history subcommand ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open("")
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}

		for _, it := range items {
			fmt.Printf("%s  %-9s %-4s %s  %d req  %.1f%% ok  %.1f req/s  avg %.1fms\n",
				it.Timestamp.Format("2006-01-02 15:04:05"),
				it.State,
				it.Config.Protocol,
				it.Config.Target,
				it.Summary.Requests,
				it.Summary.SuccessRate,
				it.Summary.Rate,
				it.Summary.AvgMs,
			)
		}
		return nil
	},
}

func init() {
	targetCmd.Flags().Int("http-port", 8080, "HTTP listen port")
	targetCmd.Flags().Int("tcp-port", 8081, "TCP echo listen port")
	targetCmd.Flags().Int("udp-port", 8082, "UDP echo listen port")
	targetCmd.Flags().Int("limited-rps", 10, "per-second budget of /limited before 429s")
}
