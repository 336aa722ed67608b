package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cerise-io/cerise"
)

// Env carries the connection settings, populated from the environment (with
// an optional .env.local preload) and overridable by flags.
type Env struct {
	Addr     string `env:"CERISE_ADDR,default=localhost:6379"`
	Username string `env:"CERISE_USERNAME"`
	Password string `env:"CERISE_PASSWORD"`
	DB       int    `env:"CERISE_DB,default=0"`
}

var (
	environ Env

	addr        string
	db          int
	verbose     bool
	compression string
)

func loadEnv(ctx context.Context) error {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
	}
	return envconfig.Process(ctx, &environ)
}

func buildClient() (cerise.Client, error) {
	conf := cerise.NewConfig()
	conf.ClientName = "cerise-cli"
	conf.DB = environ.DB
	if db != 0 {
		conf.DB = db
	}
	if environ.Password != "" {
		conf.Auth.Enable = true
		conf.Auth.Username = environ.Username
		conf.Auth.Password = environ.Password
	}
	if compression != "" {
		if err := conf.Compression.Codec.UnmarshalText([]byte(compression)); err != nil {
			return nil, err
		}
	}

	target := environ.Addr
	if addr != "" {
		target = addr
	}
	return cerise.NewClient([]string{target}, conf)
}

var rootCmd = &cobra.Command{
	Use:   "cerise-cli",
	Short: "Command-line client for RESP data stores",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(cmd.Context()); err != nil {
			return err
		}
		logConfig := zap.NewProductionConfig()
		if verbose {
			logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		log, err := logConfig.Build()
		if err != nil {
			return err
		}
		cerise.Logger = zap.NewStdLog(log)
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		start := time.Now()
		if err := client.Ping(); err != nil {
			return err
		}
		fmt.Printf("PONG (%v)\n", time.Since(start).Round(time.Microsecond))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		value, err := client.Get(args[0])
		if err != nil {
			return err
		}
		if value == nil {
			fmt.Println("(nil)")
			return nil
		}
		fmt.Println(*value)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if ttl, _ := cmd.Flags().GetDuration("ttl"); ttl > 0 {
			return client.SetTTL(args[0], args[1], ttl)
		}
		return client.Set(args[0], args[1])
	},
}

var delCmd = &cobra.Command{
	Use:   "del <key> [key...]",
	Short: "Delete one or more keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.Del(args...)
		if err != nil {
			return err
		}
		fmt.Println(strconv.FormatInt(n, 10))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&addr, "addr", "a", "", "server address (overrides CERISE_ADDR)")
	flags.IntVar(&db, "db", 0, "numbered database to select (overrides CERISE_DB)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&compression, "compression", "", "value compression codec (none|gzip|snappy|lz4|zstd)")

	setCmd.Flags().Duration("ttl", 0, "expiry to set on the key")

	rootCmd.AddCommand(pingCmd, getCmd, setCmd, delCmd, benchCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
