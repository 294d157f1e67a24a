package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sachindeshpande/faers-sub002/api"
	"github.com/sachindeshpande/faers-sub002/chassis/config"
	"github.com/sachindeshpande/faers-sub002/chassis/events"
	"github.com/sachindeshpande/faers-sub002/chassis/storage"
	"github.com/sachindeshpande/faers-sub002/coordinator"
	"github.com/sachindeshpande/faers-sub002/document"
	"github.com/sachindeshpande/faers-sub002/gateway"
	"github.com/sachindeshpande/faers-sub002/poller"
	"github.com/sachindeshpande/faers-sub002/workflow"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	log.Init("faersd", appCfg.Coordinator.LogLevel)
	log.WithFields(log.Fields{
		"event": "init_service",
	}).Info("service initialized")
	if appCfg.Gateway.Environment != "" {
		if _, err := appCfg.FindEnvironment(appCfg.Gateway.Environment); err != nil {
			log.WithFields(log.Fields{
				"event": "config_invalid",
			}).Fatal(err)
		}
	}

	repoCfg := storage.Config{
		DSN: appCfg.Storage.DSN,
	}
	repo, err := storage.InitPGRepository(repoCfg)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_storage_failed",
		}).Fatal(err)
	}

	var broadcaster events.Broadcaster = events.LogBroadcaster{}
	if appCfg.AWS.EventQueueURL != "" {
		broadcaster = events.InitSQSBroadcaster(events.Config{
			Name:    appCfg.AWS.EventQueueName,
			URL:     appCfg.AWS.EventQueueURL,
			Retries: appCfg.AWS.Retries,

			//AWS specific
			Region:             appCfg.AWS.Region,
			CredentialsFile:    appCfg.AWS.CredentialsFile,
			CredentialsProfile: appCfg.AWS.CredentialsProfile,
		})
	}

	auth := gateway.NewAuthManager(appCfg.Gateway.Environments)
	client := gateway.NewClient(appCfg.Gateway.Environments)
	machine := workflow.NewCaseMachine(repo)
	generator := document.NewStoreGenerator(repo)

	coord := coordinator.New(coordinator.Config{
		Auth:                auth,
		API:                 client,
		Cases:               repo,
		Attempts:            repo,
		Workflow:            machine,
		Documents:           generator,
		Broadcaster:         broadcaster,
		MaxAutomaticRetries: appCfg.Coordinator.MaxAutomaticRetries,
		MaxTotalAttempts:    appCfg.Coordinator.MaxTotalAttempts,
	})

	ackPoller := poller.New(poller.Config{
		Auth:        auth,
		API:         client,
		Cases:       repo,
		Attempts:    repo,
		Workflow:    machine,
		Broadcaster: broadcaster,
		Environment: appCfg.Gateway.Environment,
		Interval:    time.Duration(appCfg.Poller.PollingIntervalMinutes) * time.Minute,
		Timeout:     time.Duration(appCfg.Poller.PollingTimeoutHours) * time.Hour,
	})
	ackPoller.Start()

	handler := &api.Handler{
		Coordinator: coord,
		Poller:      ackPoller,
		Attempts:    repo,
		Environment: appCfg.Gateway.Environment,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	router := mux.NewRouter()
	handler.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    appCfg.API.Addr,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen: %s\n", err)
		}
	}()
	<-done
	log.WithFields(log.Fields{
		"event": "ctx_cancel",
	}).Info("received syscall")
	ackPoller.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server Shutdown Failed:%+v", err)
	}
}
