package bootstrap

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fulldump/box"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fulldump/recorddb/api"
	"github.com/fulldump/recorddb/cache"
	"github.com/fulldump/recorddb/configuration"
	"github.com/fulldump/recorddb/database"
	"github.com/fulldump/recorddb/service"
	"github.com/fulldump/recorddb/store"
)

// Config builds the database configuration out of the user facing one.
func Config(c *configuration.Configuration, logger *log.Logger, reg prometheus.Registerer) (*database.Config, error) {
	collections, err := store.ParseCollections(c.Collections)
	if err != nil {
		return nil, err
	}

	options := cache.DefaultOptions()
	options.Capacity = c.CacheSize
	options.EvictBatch = c.CacheBatch
	options.FlushInterval = time.Duration(c.CacheFlushMillis) * time.Millisecond
	options.Retries = c.CacheRetries

	return &database.Config{
		Dir:           c.Dir,
		Backend:       c.Backend,
		Fsync:         c.Fsync,
		CompactOnOpen: c.CompactOnOpen,
		Cache:         options,
		Collections:   collections,
		Logger:        logger,
		Registerer:    reg,
	}, nil
}

func Bootstrap(c *configuration.Configuration, version string) (start, stop func(), err error) {

	logger := log.New(os.Stdout, "", log.LstdFlags)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	config, err := Config(c, logger, reg)
	if err != nil {
		return nil, nil, err
	}
	db := database.NewDatabase(config)

	b := api.Build(service.NewService(db), version, reg)
	b.WithInterceptors(
		api.AccessLog(log.New(os.Stdout, "ACCESS: ", log.Lshortfile)),
		api.PrettyErrorInterceptor,
		api.InterceptorUnavailable(db),
		api.RecoverFromPanic(logger),
	)

	s := &http.Server{
		Addr:    c.HttpAddr,
		Handler: box.Box2Http(b),
	}

	ln, err := net.Listen("tcp", c.HttpAddr)
	if err != nil {
		return nil, nil, err
	}
	logger.Println("listening on", c.HttpAddr)

	stopOnce := sync.Once{}
	stop = func() {
		stopOnce.Do(func() {
			db.Stop()
			s.Shutdown(context.Background())
		})
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for {
			sig := <-signalChan
			logger.Println("Signal received", sig.String())
			stop()
		}
	}()

	start = func() {

		wg := &sync.WaitGroup{}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Start()
			if err != nil {
				logger.Println(err.Error())
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serve(ln)
			if err != nil && err != http.ErrServerClosed {
				logger.Println(err.Error())
			}
		}()

		wg.Wait()
	}

	return
}
