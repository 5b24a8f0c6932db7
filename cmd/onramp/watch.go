package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jcelliott/onramp"
)

// The address of the status server, "" for $ONRAMP_HTTP_ADDR
var httpAddr string

func init() {
	flags := WatchCmd.Flags()

	flags.StringVar(&httpAddr, "http-addr", "", "Address of the status server (default $ONRAMP_HTTP_ADDR, \"-\" disables it)")
}

var WatchCmd = &cobra.Command{
	Use:   "watch <topic>...",
	Short: "Subscribe to topics and print events, reconnecting as needed",
	Long: `Subscribe to topics and print events, reconnecting as needed

Events are printed one per line as JSON. The connection is retried after
$ONRAMP_RETRY_DELAY whenever it is lost. /status, /metrics and /ping are
served on the status server.

Usage
	onramp watch http://example.com/chat http://example.com/news
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		cfg, err := clientConfig()
		if err != nil {
			return err
		}
		onramp.RegisterMetrics()

		w := newWatcher(args, cmd.OutOrStdout())
		sv := onramp.NewSupervisor(func(ctx context.Context) (*onramp.Session, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return onramp.Dial(ctx, url, cfg)
		}, onramp.SupervisorConfig{
			RetryDelay: conf.RetryDelay,
			OnConnect:  w.subscribe,
			OnLost: func(err error, attempts int) {
				log.Warn("connection lost", zap.Error(err), zap.Int("attempts", attempts))
			},
			Logger: log,
		})

		addr := httpAddr
		if addr == "" {
			addr = conf.HTTPAddr
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := sv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		if addr != "-" {
			s := &http.Server{
				Addr:    addr,
				Handler: setupRouter(conf.Debug, log, sv, w),
			}
			g.Go(func() error {
				log.Info("status server listening", zap.String("addr", addr))
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				s.SetKeepAlivesEnabled(false)
				return s.Shutdown(shutdownCtx)
			})
		}

		err = g.Wait()
		log.Info("Exiting")
		return err
	},
}

// watcher prints events for a fixed set of topics and subscribes to them on
// every new session.
type watcher struct {
	topics   []string
	listener *onramp.Listener

	mu     sync.Mutex
	out    io.Writer
	events uint64
}

func newWatcher(topics []string, out io.Writer) *watcher {
	w := &watcher{topics: topics, out: out}
	w.listener = onramp.NewListener(w.print)
	return w
}

func (w *watcher) print(topic string, event interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events++
	fmt.Fprintf(w.out, "%s %s\n", topic, formatValue(event))
}

func (w *watcher) subscribe(s *onramp.Session) {
	for _, t := range w.topics {
		if err := s.Subscribe(t, w.listener); err != nil {
			log.Error("subscribe failed", zap.String("topic", t), zap.Error(err))
		}
	}
}

func (w *watcher) count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

func setupRouter(debugHTTP bool, log *zap.Logger, sv *onramp.Supervisor, w *watcher) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"supervisor": sv.Status(),
			"topics":     w.topics,
			"events":     w.count(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
