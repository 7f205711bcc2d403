// Package clone implements the one-shot migration path: read every record
// of a legacy table, create the corresponding backend table, and stream
// the records through the codec into INSERTs.
package clone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/scu/pgisam/codec"
	"github.com/scu/pgisam/database"
	"github.com/scu/pgisam/legacyisam"
	"github.com/scu/pgisam/schema"
)

// Options parameterizes a clone run.
type Options struct {
	// Concurrency bounds how many tables are cloned at once; 0 clones
	// them one at a time.
	Concurrency int
	// Connect opens a fresh backend connection for one table's job; each
	// job owns its connection for its whole lifetime.
	Connect func(ctx context.Context) (database.Conn, error)
	// Open yields the legacy-side record stream for one table.
	Open legacyisam.Opener
}

// Report is the per-table outcome of a run.
type Report struct {
	Table   string
	Rows    int
	Skipped int // rows dropped on codec mismatch
}

// Run clones every named table. Table jobs are independent, so they fan
// out over a bounded worker pool. A hard failure in one table does not stop
// the other tables; the run returns the first such error and no reports.
func Run(ctx context.Context, registry *schema.Registry, names []string, opts Options) ([]Report, error) {
	return database.ConcurrentMapFuncWithError(names, opts.Concurrency, func(name string) (Report, error) {
		return cloneOne(ctx, registry, name, opts)
	})
}

func cloneOne(ctx context.Context, registry *schema.Registry, name string, opts Options) (Report, error) {
	rep := Report{Table: name}

	t, err := registry.Push(name)
	if err != nil {
		return rep, err
	}

	conn, err := opts.Connect(ctx)
	if err != nil {
		return rep, err
	}
	defer conn.Close()

	reader, err := opts.Open(name, t.Reclen)
	if err != nil {
		return rep, err
	}
	defer reader.Close()

	for _, stmt := range t.BuildCreateTable() {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return rep, fmt.Errorf("clone %s: %w", name, err)
		}
	}

	rows, skipped, err := stream(ctx, conn, t, reader)
	rep.Rows, rep.Skipped = rows, skipped
	if err != nil {
		return rep, fmt.Errorf("clone %s: %w", name, err)
	}
	slog.Info("table cloned", "table", name, "rows", rows, "skipped", skipped)
	return rep, nil
}

// stream pumps records from the legacy reader into INSERTs. A codec
// mismatch drops only the offending row; backend failures stop the table.
func stream(ctx context.Context, conn database.Conn, t *schema.Table, reader legacyisam.Reader) (rows, skipped int, err error) {
	record := make([]byte, t.Reclen)
	for {
		if err := reader.ReadNext(record); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, skipped, nil
			}
			return rows, skipped, err
		}

		if err := extract(t, record); err != nil {
			slog.Warn("row skipped", "table", t.Name, "row", rows+skipped+1, "err", err)
			skipped++
			continue
		}
		if _, err := conn.Exec(ctx, t.BuildInsert()); err != nil {
			return rows, skipped, err
		}
		rows++
	}
}

func extract(t *schema.Table, record []byte) error {
	t.ClearValues()
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.IsPhantom {
			continue
		}
		v, err := codec.ExtractField(record, col.Spec())
		if err != nil {
			return err
		}
		col.Value = v
	}
	return nil
}
