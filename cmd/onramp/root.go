package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/jcelliott/onramp"
	"github.com/jcelliott/onramp/internal/env"
)

var (
	// The WAMP server to connect to
	url string

	useMsgpack           bool
	skipSubprotocolCheck bool
	debug                bool

	// How long to wait for the connection and for call results
	timeout time.Duration

	conf *env.Config
	log  *zap.Logger
)

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&url, "url", "u", "", "WAMP server websocket URL (default $ONRAMP_URL)")
	flags.BoolVar(&useMsgpack, "msgpack", false, "Use the msgpack serialization")
	flags.BoolVar(&skipSubprotocolCheck, "skip-subprotocol-check", false, "Accept servers that do not select the wamp subprotocol")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Connect and call timeout")

	RootCmd.AddCommand(CallCmd, PublishCmd, WatchCmd, ConsoleCmd)
}

var RootCmd = &cobra.Command{
	Use:   "onramp",
	Short: "A WAMP v1 client",
	Long: `A WAMP v1 client

Settings are read from the environment (and .env.local), and may be
overridden with flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		conf, err = env.LoadConfig(cmd.Context())
		if err != nil {
			return err
		}
		if url == "" {
			url = conf.URL
		}
		if useMsgpack {
			conf.Serialization = onramp.MSGPACK.String()
		}
		if skipSubprotocolCheck {
			conf.SkipSubprotocolCheck = true
		}
		if debug {
			conf.Debug = true
		}

		log, err = env.MakeLogger(conf.Debug)
		if err != nil {
			return err
		}
		if conf.Debug {
			onramp.SetLogger(log.Named("onramp"))
		}
		return nil
	},
}

// clientConfig builds the session settings for the current flags and
// environment.
func clientConfig() (*onramp.Config, error) {
	ser, err := onramp.ParseSerialization(conf.Serialization)
	if err != nil {
		return nil, err
	}
	return &onramp.Config{
		Websocket: onramp.WebsocketConfig{
			Serialization:        ser,
			SkipSubprotocolCheck: conf.SkipSubprotocolCheck,
			HandshakeTimeout:     timeout,
			Logger:               log.Named("websocket"),
		},
		Session: onramp.SessionConfig{
			CallTimeout: conf.CallTimeout,
			Logger:      log.Named("session"),
			OnWarning: func(err error) {
				log.Warn("inbound message dropped", zap.Error(err))
			},
		},
	}, nil
}

func dial(ctx context.Context) (*onramp.Session, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return onramp.Dial(ctx, url, cfg)
}

// parseValue reads a command line argument as JSON, or as a plain string
// when it is not valid JSON.
func parseValue(arg string) interface{} {
	if gjson.Valid(arg) {
		return gjson.Parse(arg).Value()
	}
	return arg
}

func formatValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
