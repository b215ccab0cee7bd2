// polarisd: the authoritative metadata sync service.
// Serves the update pipeline, change feed, batch and location endpoints,
// and the websocket notification hub.

package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/polaris-sync/polaris/internal/api"
	"github.com/polaris-sync/polaris/internal/config"
	"github.com/polaris-sync/polaris/internal/db"
	"github.com/polaris-sync/polaris/internal/location"
	"github.com/polaris-sync/polaris/internal/object"
	"github.com/polaris-sync/polaris/internal/translog"
)

func main() {
	configPath := flag.String("config", "", "path to server.yaml")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatalf("polarisd: config: %v", err)
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("polarisd: %v", err)
	}
	defer conn.Close()

	auth := api.NewStaticAuthenticator()
	for _, d := range cfg.Devices {
		auth.RegisterDigest(d.TokenDigest, api.Principal{
			User:   d.User,
			Device: object.DID(d.DeviceID),
		})
	}

	var access api.AccessChecker = api.OpenAccess{}
	if len(cfg.Grants) > 0 {
		acl := &api.StoreACL{Grants: make(map[string][]object.SID)}
		for user, sids := range cfg.Grants {
			for _, sid := range sids {
				acl.Grants[user] = append(acl.Grants[user], object.SID(sid))
			}
		}
		access = acl
	}

	srv := api.NewServer(translog.New(conn), location.New(conn), auth, access)

	log.Printf("polarisd: listening on %s, db %s", cfg.ListenAddr, cfg.DBPath)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Handler()); err != nil {
		log.Fatalf("polarisd: %v", err)
	}
}
