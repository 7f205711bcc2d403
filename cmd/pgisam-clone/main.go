package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/scu/pgisam/clone"
	"github.com/scu/pgisam/config"
	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/database/postgres"
	"github.com/scu/pgisam/legacyisam"
	"github.com/scu/pgisam/schema"
	"github.com/scu/pgisam/telemetry"
)

var version string

func main() {
	var opts struct {
		DataDir     string `short:"d" long:"data-dir" description:"Directory holding the legacy <table>.dat exports, defaults to $EDATA" value-name:"dir"`
		List        string `short:"l" long:"list" description:"Clone list file, defaults to $BRIDGE/clonelist.def" value-name:"filename"`
		Concurrency int    `short:"c" long:"concurrency" description:"How many tables to clone at once" value-name:"n" default:"4"`
		Help        bool   `long:"help" description:"Show this help"`
		Version     bool   `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...]"
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatal(err)
	}
	telemetry.Init(telemetry.ParsePGISAM(env.PGISAM))

	row, err := config.ParseConnDef(filepath.Join(env.Bridge, "conn.def"), env.EDATA)
	if err != nil {
		log.Fatal(err)
	}

	listPath := opts.List
	if listPath == "" {
		listPath = filepath.Join(env.Bridge, "clonelist.def")
	}
	names, err := config.ParseCloneListDef(listPath)
	if err != nil {
		log.Fatal(err)
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = env.EDATA
	}

	ctx := context.Background()
	reports, err := clone.Run(ctx, schema.NewRegistry(env.Bridge), names, clone.Options{
		Concurrency: opts.Concurrency,
		Connect: func(ctx context.Context) (database.Conn, error) {
			return postgres.New(ctx, row.DSN(), row.Schema)
		},
		Open: func(name string, reclen int) (legacyisam.Reader, error) {
			return legacyisam.OpenDat(filepath.Join(dataDir, name+".dat"), reclen)
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, rep := range reports {
		fmt.Printf("%s: %d rows", rep.Table, rep.Rows)
		if rep.Skipped > 0 {
			fmt.Printf(" (%d skipped)", rep.Skipped)
		}
		fmt.Println()
	}
}
