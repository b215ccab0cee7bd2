// syncd: device-side reconciliation daemon.
// Runs one reconciliation loop per configured store: applies remote changes
// from the feed to the local tree and submits queued local edits. Push
// hints from the server wake loops early; polling remains the ground truth.

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/polaris-sync/polaris/internal/client"
	"github.com/polaris-sync/polaris/internal/config"
	"github.com/polaris-sync/polaris/internal/content"
	"github.com/polaris-sync/polaris/internal/daemon"
	"github.com/polaris-sync/polaris/internal/db"
	"github.com/polaris-sync/polaris/internal/object"
)

func main() {
	configPath := flag.String("config", "", "path to syncd.yaml")
	flag.Parse()

	cfg, err := config.LoadDaemon(*configPath)
	if err != nil {
		log.Fatalf("syncd: config: %v", err)
	}
	if cfg.Token == "" {
		log.Fatal("syncd: no device token configured")
	}
	if len(cfg.Stores) == 0 {
		log.Fatal("syncd: no stores configured")
	}
	device := object.DID(cfg.DeviceID)
	if device == "" {
		device = object.NewDID()
		log.Printf("syncd: no device_id configured, using %s", device)
	}

	conn, err := db.OpenClient(cfg.DBPath)
	if err != nil {
		log.Fatalf("syncd: %v", err)
	}
	defer conn.Close()

	var backend content.Backend
	if cfg.S3 != nil {
		backend, err = content.NewS3Backend(context.Background(), content.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			log.Fatalf("syncd: s3 backend: %v", err)
		}
	} else {
		backend = content.NewFolderBackend(cfg.ContentDir)
	}

	api := client.New(cfg.ServerURL, cfg.Token)
	tree := daemon.NewTree(conn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, s := range cfg.Stores {
		root := object.SID(s)
		loop := daemon.NewLoop(root, device, api, tree,
			daemon.WithContentBackend(backend),
			daemon.WithPollInterval(time.Duration(cfg.PollInterval)),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("syncd: store %s: %v", root, err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			listenHints(ctx, api, root, loop)
		}()
	}
	wg.Wait()
}

// listenHints keeps a notification subscription alive for root, waking the
// loop on each hint. Reconnects with a flat delay; losing the channel never
// fails the sync.
func listenHints(ctx context.Context, api *client.Client, root object.SID, loop *daemon.Loop) {
	hints := make(chan client.Hint, 16)
	go func() {
		for range hints {
			loop.Wake()
		}
	}()
	defer close(hints)
	for ctx.Err() == nil {
		if err := api.Listen(ctx, root, hints); err != nil && ctx.Err() == nil {
			log.Printf("syncd: notifications %s: %v", root, err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
}
