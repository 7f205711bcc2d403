// Package config resolves the bridge's environment (EDATA, BRIDGE, PGISAM)
// and parses the small comma/line-oriented files under $BRIDGE:
// conn.def, preload.def, clonelist.def.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConnRow is one row of conn.def: the connection parameters for a single
// EDATA value.
type ConnRow struct {
	EDATA    string
	Host     string
	Port     int
	DBName   string
	Schema   string
	User     string
	Password string
}

// DSN renders the row as a lib/pq-compatible keyword/value connection
// string. Every value, the password included, is written unquoted and
// unescaped, so a value containing a space, a single quote or a backslash
// is not carried into the DSN intact.
func (r ConnRow) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		r.Host, r.Port, r.DBName, r.User, r.Password)
}

// Env holds the bridge's environment variables: EDATA and BRIDGE are
// required, PGISAM is optional.
type Env struct {
	EDATA  string
	Bridge string
	PGISAM string
}

// LoadEnv reads EDATA and BRIDGE (required) and PGISAM (optional) from the
// process environment.
func LoadEnv() (Env, error) {
	edata, ok := os.LookupEnv("EDATA")
	if !ok || edata == "" {
		return Env{}, fmt.Errorf("EDATA environment variable is required")
	}
	bridge, ok := os.LookupEnv("BRIDGE")
	if !ok || bridge == "" {
		return Env{}, fmt.Errorf("BRIDGE environment variable is required")
	}
	return Env{EDATA: edata, Bridge: bridge, PGISAM: os.Getenv("PGISAM")}, nil
}

// ParseConnDef reads $BRIDGE/conn.def and returns the row matching edata.
// Each non-comment, non-blank line is:
//
//	edata,host,port,dbname,schema,user,password
func ParseConnDef(path, edata string) (ConnRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return ConnRow{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := stripCRAndComment(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 7 {
			continue
		}
		if parts[0] != edata {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return ConnRow{}, fmt.Errorf("conn.def: bad port for %s: %w", edata, err)
		}
		return ConnRow{
			EDATA:    parts[0],
			Host:     strings.TrimSpace(parts[1]),
			Port:     port,
			DBName:   strings.TrimSpace(parts[3]),
			Schema:   strings.TrimSpace(parts[4]),
			User:     strings.TrimSpace(parts[5]),
			Password: strings.TrimSpace(parts[6]),
		}, nil
	}
	if err := sc.Err(); err != nil {
		return ConnRow{}, err
	}
	return ConnRow{}, fmt.Errorf("conn.def: no row for EDATA=%s", edata)
}

// ParsePreloadDef reads $BRIDGE/preload.def: one schema name per line, to be
// pushed into the registry at init.
func ParsePreloadDef(path string) ([]string, error) {
	return readLines(path)
}

// ParseCloneListDef reads $BRIDGE/clonelist.def: one legacy table name per
// line, consumed by the clone driver.
func ParseCloneListDef(path string) ([]string, error) {
	return readLines(path)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := stripCRAndComment(sc.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, sc.Err()
}

// stripCRAndComment drops a trailing CR, trims surrounding whitespace, and
// blanks out comment (#) and CR-only lines, matching the .def grammar.
func stripCRAndComment(line string) string {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// DefPath returns the path of a per-table definition file under $BRIDGE,
// as consumed by the schema registry.
func DefPath(bridge, name string) string {
	return filepath.Join(bridge, name+".def")
}
