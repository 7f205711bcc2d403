package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/scu/pgisam/config"
	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/database/postgres"
	"github.com/scu/pgisam/iserr"
	"github.com/scu/pgisam/schema"
	"github.com/scu/pgisam/telemetry"
)

var version string

func main() {
	var opts struct {
		Prompt  bool `long:"password-prompt" description:"Force a password prompt, overriding conn.def"`
		Help    bool `long:"help" description:"Show this help"`
		Version bool `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...] dump|errcode <n>|ping"
	args, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
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
	if len(args) == 0 {
		fmt.Print("No command is specified!\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	switch args[0] {
	case "dump":
		if err := dump(); err != nil {
			log.Fatal(err)
		}
	case "errcode":
		if len(args) < 2 {
			log.Fatal("errcode requires a numeric code")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%d: %s\n", n, iserr.Describe(iserr.Code(n)))
	case "ping":
		if err := ping(opts.Prompt); err != nil {
			log.Fatal(err)
		}
		fmt.Println("ok")
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}
}

// dump loads every preloaded definition and prints the DDL it would run,
// without touching the backend.
func dump() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	telemetry.Init(telemetry.ParsePGISAM(env.PGISAM))

	names, err := config.ParsePreloadDef(filepath.Join(env.Bridge, "preload.def"))
	if err != nil {
		return err
	}

	registry := schema.NewRegistry(env.Bridge)
	conn, err := postgres.New(context.Background(), "", "", postgres.WithPrintOnly(database.StdoutLogger{}))
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, name := range names {
		t, err := registry.Push(name)
		if err != nil {
			return err
		}
		for _, stmt := range t.BuildCreateTable() {
			if _, err := conn.Exec(context.Background(), stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func ping(prompt bool) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	telemetry.Init(telemetry.ParsePGISAM(env.PGISAM))

	row, err := config.ParseConnDef(filepath.Join(env.Bridge, "conn.def"), env.EDATA)
	if err != nil {
		return err
	}

	if prompt {
		fmt.Printf("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return err
		}
		fmt.Println()
		row.Password = string(pass)
	}

	ctx := context.Background()
	conn, err := postgres.New(ctx, row.DSN(), row.Schema)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Exec(ctx, "SELECT 1")
	return err
}
