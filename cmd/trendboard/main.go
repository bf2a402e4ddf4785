/*
Copyright 2026 The Trendboard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// trendboard serves regression-test analytics over ingested CI
// artifacts.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dataplane-ci/trendboard/pkg/analytics"
	"github.com/dataplane-ci/trendboard/pkg/bugwatch"
	"github.com/dataplane-ci/trendboard/pkg/ingest"
	"github.com/dataplane-ci/trendboard/pkg/jenkins"
	"github.com/dataplane-ci/trendboard/pkg/jobtrack"
	"github.com/dataplane-ci/trendboard/pkg/metadata"
	"github.com/dataplane-ci/trendboard/pkg/model"
	"github.com/dataplane-ci/trendboard/pkg/schedule"
	"github.com/dataplane-ci/trendboard/pkg/server"
	"github.com/dataplane-ci/trendboard/pkg/sse"
	"github.com/dataplane-ci/trendboard/pkg/store"
)

type options struct {
	database model.MySQLConfig
	sqlite   string

	address      string
	logsBase     string
	parentJob    string
	workerLimit  int
	bugFeedURL   string
	adminPINHash string
	jsonLogs     bool
}

func (o *options) openDatabase() (*store.Store, error) {
	logger := logrus.NewEntry(logrus.StandardLogger())
	if o.sqlite != "" {
		cfg := model.SQLiteConfig{File: o.sqlite}
		db, err := cfg.CreateDatabase()
		if err != nil {
			return nil, err
		}
		return store.New(db, logger), nil
	}
	db, err := o.database.CreateDatabase()
	if err != nil {
		return nil, err
	}
	return store.New(db, logger), nil
}

// newPoller builds an ingestion poller from environment credentials.
// The token is re-read on every request so rotation needs no restart.
func (o *options) newPoller(st *store.Store, metrics *jenkins.Metrics) server.PollerFunc {
	return func() (*ingest.Poller, error) {
		user := os.Getenv("JENKINS_USER")
		token := os.Getenv("JENKINS_API_TOKEN")
		base := os.Getenv("JENKINS_URL")
		if user == "" || token == "" {
			return nil, errors.New("JENKINS_USER and JENKINS_API_TOKEN must be set")
		}
		parentJob := o.parentJob
		if !strings.HasPrefix(parentJob, "http") && base != "" {
			parentJob = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(parentJob, "/")
		}
		auth := &jenkins.BasicAuthConfig{
			User:     user,
			GetToken: func() []byte { return []byte(os.Getenv("JENKINS_API_TOKEN")) },
		}
		client := jenkins.NewClient(auth, logrus.NewEntry(logrus.StandardLogger()), metrics.ClientMetrics)
		cfg := ingest.Config{
			ParentJobURL: parentJob,
			LogsBase:     o.logsBase,
			WorkerLimit:  o.workerLimit,
		}
		return ingest.NewPoller(cfg, st, client, metrics, logrus.NewEntry(logrus.StandardLogger())), nil
	}
}

func run(o *options) error {
	if o.jsonLogs {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logger := logrus.NewEntry(logrus.StandardLogger())

	st, err := o.openDatabase()
	if err != nil {
		return fmt.Errorf("cannot open database: %v", err)
	}
	if err := st.MigrateLegacySettings(); err != nil {
		return fmt.Errorf("cannot migrate settings: %v", err)
	}

	metrics := jenkins.NewMetrics()
	engine := analytics.New(st, logger)
	tracker := jobtrack.New()
	streamer := sse.New(tracker, st, logger)
	scheduler := schedule.New(logger)
	newPoller := o.newPoller(st, metrics)

	var bugUpdater func() error
	if o.bugFeedURL != "" {
		updater := bugwatch.New(o.bugFeedURL, st, logger)
		bugUpdater = updater.Update
	}

	srv := server.New(server.Options{
		Store:        st,
		Engine:       engine,
		Tracker:      tracker,
		Streamer:     streamer,
		Scheduler:    scheduler,
		NewPoller:    newPoller,
		BugUpdater:   bugUpdater,
		AdminPINHash: o.adminPINHash,
		Logger:       logger,
	})

	scheduler.Start()
	defer scheduler.Stop()

	if st.BoolSetting(store.SettingAutoUpdateEnabled, false) {
		interval := st.FloatSetting(store.SettingPollingIntervalHours, 6)
		err := scheduler.AddPoller(interval, func() {
			poller, err := newPoller()
			if err != nil {
				logger.WithError(err).Error("Cannot build poller.")
				return
			}
			if _, err := poller.PollOnce(); err != nil {
				logger.WithError(err).Error("Scheduled poll failed.")
			}
		})
		if err != nil {
			return fmt.Errorf("cannot schedule poller: %v", err)
		}
	}

	if bugUpdater != nil {
		if err := scheduler.AddBugUpdater(func() {
			if err := bugUpdater(); err != nil {
				logger.WithError(err).Error("Bug update failed.")
			}
		}); err != nil {
			return fmt.Errorf("cannot schedule bug updater: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:    o.address,
		Handler: srv.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s.", o.address)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Infof("Received %v, shutting down.", sig)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func main() {
	o := &options{}

	serveCmd := &cobra.Command{
		Use:   "trendboard",
		Short: "Regression-test observability service",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(o)
		},
	}
	o.database.AddFlags(serveCmd)
	serveCmd.PersistentFlags().StringVar(&o.sqlite, "sqlite", "", "Use a sqlite database file instead of MySQL")
	serveCmd.PersistentFlags().StringVar(&o.address, "address", ":8080", "HTTP listen address")
	serveCmd.PersistentFlags().StringVar(&o.logsBase, "logs-base", "logs", "Artifact download root")
	serveCmd.PersistentFlags().StringVar(&o.parentJob, "parent-job", "", "Parent job URL or path under JENKINS_URL")
	serveCmd.PersistentFlags().IntVar(&o.workerLimit, "worker-limit", 5, "Concurrent module downloads per build")
	serveCmd.PersistentFlags().StringVar(&o.bugFeedURL, "bug-feed", "", "Bug tracker JSON feed URL")
	serveCmd.PersistentFlags().StringVar(&o.adminPINHash, "admin-pin-hash", "", "SHA-256 hex digest of the admin PIN")
	serveCmd.PersistentFlags().BoolVar(&o.jsonLogs, "json-logs", false, "Log in JSON")

	syncCmd := &cobra.Command{
		Use:   "sync-metadata <csv>",
		Short: "Import the testcase catalog from a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := o.openDatabase()
			if err != nil {
				return err
			}
			res, err := metadata.New(st, nil).SyncFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d rows: %d created, %d updated.\n", res.Total, res.Created, res.Updated)
			return nil
		},
	}
	serveCmd.AddCommand(syncCmd)

	if err := serveCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("trendboard failed.")
	}
}
