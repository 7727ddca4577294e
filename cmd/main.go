/*
 * This file is part of Lectern (https://github.com/lecternlabs/lectern).
 * Copyright (C) 2025 Lectern Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lecternlabs/lectern-hub/internal/asr"
	"github.com/lecternlabs/lectern-hub/internal/config"
	"github.com/lecternlabs/lectern-hub/internal/decode"
	"github.com/lecternlabs/lectern-hub/internal/engine"
	"github.com/lecternlabs/lectern-hub/internal/ingest"
	"github.com/lecternlabs/lectern-hub/internal/logging"
	"github.com/lecternlabs/lectern-hub/internal/messaging"
	"github.com/lecternlabs/lectern-hub/internal/server"
	"github.com/lecternlabs/lectern-hub/internal/storage"
)

func main() {
	// Initialize structured logging
	if err := logging.Initialize(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		logging.LogError(err, "Failed to load configuration")
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Sugar.Infow("🚀 lectern-hub starting",
		"http_port", cfg.Server.Port,
		"ingest_url", cfg.Ingest.URL,
		"asr_backend", cfg.ASR.Backend,
		"db_path", cfg.Storage.DBPath,
	)

	// Durable transcript store
	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
	if err != nil {
		logging.LogError(err, "Failed to open database")
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	store := storage.NewTranscriptStore(db)

	// Messaging is best-effort; the hub runs without it.
	nats := messaging.NewNATSService(cfg.NATS)
	if err := nats.Connect(); err != nil {
		logging.LogError(err, "NATS unavailable, continuing without event publishing")
		nats = nil
	} else {
		defer nats.Close()
	}

	sink, err := storage.NewTranscriptSink(store, nats)
	if err != nil {
		logging.LogError(err, "Failed to create transcript sink")
		log.Fatalf("Failed to create transcript sink: %v", err)
	}

	transcriber, err := asr.New(cfg.ASR)
	if err != nil {
		logging.LogError(err, "Failed to create ASR backend")
		log.Fatalf("Failed to create ASR backend: %v", err)
	}
	defer transcriber.Close()

	registry := engine.NewRegistry(cfg.Engine, engine.Pipeline{
		Decoder:     decode.NewDecoder(),
		Transcriber: transcriber,
		Sink:        sink,
	})

	validator := engine.NewValidator(cfg.Engine.MaxChunkBytes)
	feed := ingest.NewClient(cfg.Ingest, validator, registry)

	feedCtx, stopFeed := context.WithCancel(context.Background())
	go feed.Run(feedCtx)

	srv := server.New(cfg.Server, registry, feed, store, sink)
	go func() {
		if err := srv.Start(); err != nil {
			logging.LogError(err, "Diagnostics server failed")
		}
	}()

	// Block until asked to stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Sugar.Infow("Shutdown signal received", "signal", sig.String())

	// Stop ingesting first so workers can drain, then flush and join them.
	stopFeed()
	registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(err, "Diagnostics server shutdown failed")
	}

	logging.Sugar.Infow("👋 lectern-hub stopped")
}
