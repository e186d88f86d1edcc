// Command muwanx builds, packs, publishes and previews muwanx apps.
//
//	muwanx build   -f muwanx.yaml [-o dist]
//	muwanx pack    scene.xml [-o scene.mjz | --tree dir]
//	muwanx publish [-d dist]
//	muwanx serve   -f muwanx.yaml [--addr :8000]
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"muwanx.dev/internal/config"
	"muwanx.dev/internal/manifest"
)

type command struct {
	name    string
	summary string
	run     func(env config.Env, logger *slog.Logger, args []string) error
}

var commands = []command{
	{"build", "build the app described by a muwanx.yaml", runBuild},
	{"pack", "package one MJCF scene as .mjz or a flat directory", runPack},
	{"publish", "upload a built app to an S3-compatible bucket", runPublish},
	{"serve", "build, serve and rebuild on SIGHUP", runServe},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	switch name {
	case "-h", "--help", "help":
		usage()
		return
	case "--version", "version":
		fmt.Println("muwanx", manifest.Version)
		return
	}

	env, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "muwanx:", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: env.Level()}))

	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(env, logger, os.Args[2:]); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				return
			}
			fmt.Fprintln(os.Stderr, name+":", err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "muwanx: unknown command %q\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: muwanx <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("muwanx "+name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}
