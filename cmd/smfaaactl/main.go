package main

import (
	"flag"
	"fmt"
	"os"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/service"
)

func main() {
	path := flag.String("config", defaultConfigPath, "node config path")
	level := flag.String("log-level", "", "override node.log_level")
	flag.Parse()

	cfg, err := loadConfig(*path, *level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smfaaactl: %v\n", err)
		os.Exit(1)
	}
	logs.ConfigureRuntimeLevel(cfg.Node.LogLevel)
	logs.Infof("smfaaactl config path=%s node=%s peer=%s", *path, cfg.Node.ID, cfg.Diameter.PeerAddr)

	svc, err := service.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smfaaactl: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "smfaaactl: %v\n", err)
		os.Exit(1)
	}
}
