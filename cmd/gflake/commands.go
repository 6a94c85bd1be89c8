package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Lzww0608/gflake"
	"github.com/Lzww0608/gflake/config"
	"github.com/Lzww0608/gflake/registry"
	"github.com/Lzww0608/gflake/registry/sqlregistry"
	"github.com/Lzww0608/gflake/registry/zkregistry"
)

// usageError marks invalid arguments or configuration (exit code 2)
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "settings file (.yaml, .yml or .json)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
			Value: "warn",
		},
		&cli.IntFlag{
			Name:  "data-center",
			Usage: "data center id, overrides config and environment",
		},
		&cli.IntFlag{
			Name:  "worker",
			Usage: "worker id, overrides config and environment",
		},
		&cli.StringSliceFlag{
			Name:  "zk-servers",
			Usage: "read the node ids from ZooKeeper",
		},
		&cli.DurationFlag{
			Name:  "zk-timeout",
			Usage: "ZooKeeper session timeout",
			Value: 5 * time.Second,
		},
		&cli.StringFlag{
			Name:  "mysql-dsn",
			Usage: "read the node ids from MySQL",
		},
		&cli.StringFlag{
			Name:  "service",
			Usage: "service name in the registry",
			Value: "default",
		},
		&cli.StringFlag{
			Name:  "instance",
			Usage: "instance name in the registry (default: hostname)",
		},
		&cli.StringFlag{
			Name:  "cache-dir",
			Usage: "directory of the ZooKeeper assignment cache",
			Value: ".",
		},
	}
}

func createNextCommand() *cli.Command {
	return &cli.Command{
		Name:  "next",
		Usage: "generate ids",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "number of ids",
				Value:   1,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "goroutines sharing the generator",
				Value: 1,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "decimal, base2, base36, base64 or json",
				Value:   string(formatDecimal),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			count, workers := cmd.Int("count"), cmd.Int("workers")
			if count < 1 {
				return usagef("--count must be positive, got %d", count)
			}
			if workers < 1 {
				return usagef("--workers must be positive, got %d", workers)
			}
			format, err := parseFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			gen, err := newGenerator(ctx, cmd, logger)
			if err != nil {
				return err
			}

			ids, err := generate(ctx, gen, count, workers)
			if err != nil {
				return err
			}
			return writeIDs(cmd.Root().Writer, ids, format, gen.TimeSource())
		},
	}
}

func createDecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "split ids into their fields",
		ArgsUsage: "<id> [id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "input encoding: decimal, base2, base36 or base64",
				Value:   string(formatDecimal),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print JSON lines",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return usagef("decode needs at least one id")
			}
			format, err := parseFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			if format == formatJSON {
				return usagef("json is not an input encoding")
			}
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			layout, _, ts, err := s.Build()
			if err != nil {
				return &usageError{err: err}
			}

			ids := make([]gflake.ID, 0, cmd.Args().Len())
			for _, arg := range cmd.Args().Slice() {
				id, err := format.parse(arg, layout)
				if err != nil {
					return usagef("decode %q: %w", arg, err)
				}
				ids = append(ids, id)
			}

			out := cmd.Root().Writer
			if cmd.Bool("json") {
				return writeIDs(out, ids, formatJSON, ts)
			}
			for _, id := range ids {
				c := id.Components()
				fmt.Fprintf(out, "%s\ttimestamp=%d data_center=%d worker=%d sequence=%d time=%s\n",
					id, c.Timestamp, c.DataCenter, c.Worker, c.Sequence,
					id.Time(ts).UTC().Format(time.RFC3339Nano))
			}
			return nil
		},
	}
}

func createLayoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "layout",
		Usage: "print the bit layout and its limits",
		Action: func(_ context.Context, cmd *cli.Command) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			l, _, ts, err := s.Build()
			if err != nil {
				return &usageError{err: err}
			}

			last := ts.Epoch().Add(time.Duration(l.MaxTimestamp()) * ts.TickDuration())
			if l.MaxTimestamp() > int64(time.Duration(1<<63-1)/ts.TickDuration()) {
				last = time.Time{}
			}

			w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "layout\t%s\t\n", l)
			fmt.Fprintf(w, "timestamp\t%d bits\tmax %s\n", l.TimestampBits(), humanize.Comma(l.MaxTimestamp()))
			fmt.Fprintf(w, "data center\t%d bits\tmax %s\n", l.DataCenterBits(), humanize.Comma(l.MaxDataCenter()))
			fmt.Fprintf(w, "worker\t%d bits\tmax %s\n", l.WorkerBits(), humanize.Comma(l.MaxWorker()))
			fmt.Fprintf(w, "sequence\t%d bits\tmax %s\n", l.SequenceBits(), humanize.Comma(l.MaxSequence()))
			fmt.Fprintf(w, "epoch\t%s\t\n", ts.Epoch().UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "tick\t%s\t\n", ts.TickDuration())
			if !last.IsZero() {
				fmt.Fprintf(w, "exhausted\t%s\t\n", last.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newLogger(cmd *cli.Command) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return nil, usagef("--log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(cmd.Root().ErrWriter, &slog.HandlerOptions{Level: level})), nil
}

// loadSettings applies, in order: the config file, the environment, flags
func loadSettings(cmd *cli.Command) (config.Settings, error) {
	s := config.Default()
	if path := cmd.String("config"); path != "" {
		var err error
		if s, err = config.Load(path); err != nil {
			return config.Settings{}, &usageError{err: err}
		}
	}
	if err := s.ApplyEnv(); err != nil {
		return config.Settings{}, &usageError{err: err}
	}
	if cmd.IsSet("data-center") {
		s.Node.DataCenter = int64(cmd.Int("data-center"))
	}
	if cmd.IsSet("worker") {
		s.Node.Worker = int64(cmd.Int("worker"))
	}
	return s, nil
}

func newGenerator(ctx context.Context, cmd *cli.Command, logger *slog.Logger) (*gflake.Generator, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	layout, node, ts, err := s.Build()
	if err != nil {
		return nil, &usageError{err: err}
	}

	src, closeSrc, err := openRegistry(cmd, logger)
	if err != nil {
		return nil, err
	}
	if src != nil {
		defer closeSrc()
		instance := cmd.String("instance")
		if instance == "" {
			if instance, err = os.Hostname(); err != nil {
				return nil, fmt.Errorf("resolve instance name: %w", err)
			}
		}
		node, err = registry.Identity(ctx, src, layout, cmd.String("service"), instance, node.OverflowPolicy())
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "node ids from registry",
			"service", cmd.String("service"), "instance", instance,
			"data_center", node.DataCenter(), "worker", node.Worker())
	}

	return gflake.NewGenerator(layout, node, ts, gflake.WithLogger(logger))
}

// openRegistry returns a nil Source when no registry flag is set
func openRegistry(cmd *cli.Command, logger *slog.Logger) (registry.Source, func(), error) {
	servers, dsn := cmd.StringSlice("zk-servers"), cmd.String("mysql-dsn")
	switch {
	case len(servers) > 0 && dsn != "":
		return nil, nil, usagef("--zk-servers and --mysql-dsn are mutually exclusive")
	case len(servers) > 0:
		r, err := zkregistry.Connect(servers, cmd.Duration("zk-timeout"),
			zkregistry.WithLogger(logger), zkregistry.WithCacheDir(cmd.String("cache-dir")))
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case dsn != "":
		s, err := sqlregistry.Open(dsn, sqlregistry.WithLogger(logger))
		if err != nil {
			return nil, nil, &usageError{err: err}
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, nil
	}
}

// generate issues count ids from workers goroutines sharing gen and returns
// them in ascending order
func generate(ctx context.Context, gen *gflake.Generator, count, workers int) ([]gflake.ID, error) {
	workers = min(workers, count)
	batches := make([][]gflake.ID, workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := range workers {
		n := count / workers
		if w < count%workers {
			n++
		}
		g.Go(func() error {
			batch := make([]gflake.ID, 0, n)
			for range n {
				id, err := gen.NextContext(ctx)
				if err != nil {
					return err
				}
				batch = append(batch, id)
			}
			batches[w] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := slices.Concat(batches...)
	slices.SortFunc(ids, gflake.ID.Compare)
	return ids, nil
}

type outputFormat string

const (
	formatDecimal outputFormat = "decimal"
	formatBase2   outputFormat = "base2"
	formatBase36  outputFormat = "base36"
	formatBase64  outputFormat = "base64"
	formatJSON    outputFormat = "json"
)

func parseFormat(s string) (outputFormat, error) {
	f := outputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case formatDecimal, formatBase2, formatBase36, formatBase64, formatJSON:
		return f, nil
	default:
		return "", usagef("unknown format %q", s)
	}
}

func (f outputFormat) encode(id gflake.ID) string {
	switch f {
	case formatBase2:
		return id.Base2()
	case formatBase36:
		return id.Base36()
	case formatBase64:
		return id.Base64()
	default:
		return id.String()
	}
}

func (f outputFormat) parse(s string, layout gflake.BitLayout) (gflake.ID, error) {
	switch f {
	case formatBase2:
		return gflake.ParseBase2(s, layout)
	case formatBase36:
		return gflake.ParseBase36(s, layout)
	case formatBase64:
		return gflake.ParseBase64(s, layout)
	default:
		return gflake.Parse(s, layout)
	}
}

// idRecord is one line of JSON output
type idRecord struct {
	ID gflake.ID `json:"id"`
	gflake.Components
	Time time.Time `json:"time"`
}

func writeIDs(w io.Writer, ids []gflake.ID, format outputFormat, ts gflake.TimeSource) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		for _, id := range ids {
			if err := enc.Encode(idRecord{ID: id, Components: id.Components(), Time: id.Time(ts).UTC()}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, format.encode(id)); err != nil {
			return err
		}
	}
	return nil
}
