package main

import (
	"flag"
	"fmt"
	"os"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/service"
)

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config path; the [simulator] section is used")
	flag.StringVar(&opts.listen, "listen", "", "override simulator.listen_addr")
	flag.StringVar(&opts.reject, "reject", "", "comma separated IMSIs answered with a failure outcome")
	flag.StringVar(&opts.drop, "drop", "", "comma separated IMSIs whose requests are never answered")
	flag.BoolVar(&opts.rejectAll, "reject-all", false, "answer every unlisted IMSI with a failure outcome")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.Parse()

	logs.ConfigureRuntimeLevel(opts.logLevel)
	cfg, err := opts.simulatorConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aaasim: %v\n", err)
		os.Exit(1)
	}
	sim, err := service.NewSimulator(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aaasim: %v\n", err)
		os.Exit(1)
	}
	if err := sim.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "aaasim: %v\n", err)
		os.Exit(1)
	}
}
