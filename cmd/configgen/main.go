package main

import (
	"flag"
	"log"
	"os"

	"github.com/danmuck/smfaaa/internal/config"
)

func main() {
	kind := flag.String("kind", config.KindNode, "config kind: node|simulator")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/smfaaactl/config.toml", "config path for validation")
	printCfg := flag.Bool("print", false, "with -validate, print the effective config")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		if *printCfg {
			body, err := config.Encode(cfg)
			if err != nil {
				log.Fatal(err)
			}
			_, _ = os.Stdout.Write(body)
		}
		log.Printf("Validated config at %s", *input)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case config.KindNode:
			target = "cmd/smfaaactl/config.toml"
		case config.KindSimulator:
			target = "cmd/aaasim/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
