package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/config"
	"github.com/adammck/depot/pkg/digest"
	"github.com/adammck/depot/pkg/iterator"
	"github.com/adammck/depot/pkg/logging"
)

const usage = `Usage: depot <command> [arguments]

Commands:
  put <artifactURI> [checksum] < file
  get <storageID> > file
  cutout <storageID> <cutout>... > file
  head <storageID>
  delete <storageID>
  list [bucket]...
  verify [-j n] [bucket]

The backend is configured by DEPOT_BACKEND (rados, s3, mock), with RADOS_*
and S3_* variables for each.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Args[1], os.Args[2:], os.Stdin, os.Stdout)
	if err != nil {
		slog.Error("depot failed", "cmd", os.Args[1], "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("config.FromEnv: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a, err := cfg.Open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return dispatch(ctx, a, cmd, args, stdin, stdout)
}

func dispatch(ctx context.Context, a api.StorageAdapter, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	switch cmd {
	case "put":
		return cmdPut(ctx, a, args, stdin, stdout)
	case "get":
		return cmdGet(ctx, a, args, stdout)
	case "cutout":
		return cmdCutout(ctx, a, args, stdout)
	case "head":
		return cmdHead(ctx, a, args, stdout)
	case "delete":
		return cmdDelete(ctx, a, args, stdout)
	case "list":
		return cmdList(ctx, a, args, stdout)
	case "verify":
		return cmdVerify(ctx, a, args, stdout)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// locationOf parses a storage ID as printed by put or list.
func locationOf(id string) (api.StorageLocation, error) {
	scheme, token, ok := strings.Cut(id, ":")
	if !ok || scheme == "" || token == "" {
		return api.StorageLocation{}, fmt.Errorf("invalid storage ID: %q", id)
	}
	return api.NewStorageLocation(scheme, token), nil
}

func oneLocation(args []string) (api.StorageLocation, error) {
	if len(args) != 1 {
		return api.StorageLocation{}, fmt.Errorf("expected one storage ID, got %d args", len(args))
	}
	return locationOf(args[0])
}

// record is how metadata is printed.
type record struct {
	StorageID     string `json:"storageID"`
	StorageBucket string `json:"storageBucket"`
	Checksum      string `json:"contentChecksum"`
	Length        int64  `json:"contentLength"`
	ArtifactURI   string `json:"artifactURI"`
}

func toRecord(m *api.StorageMetadata) record {
	return record{
		StorageID:     m.Location.StorageID,
		StorageBucket: m.Location.StorageBucket,
		Checksum:      m.ContentChecksum,
		Length:        m.ContentLength,
		ArtifactURI:   m.ArtifactURI,
	}
}

func cmdPut(ctx context.Context, a api.StorageAdapter, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: put <artifactURI> [checksum]")
	}

	art := api.NewArtifact{ArtifactURI: args[0]}
	if len(args) == 2 {
		art.ContentChecksum = args[1]
	}

	m, err := a.Put(ctx, art, stdin)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	return json.NewEncoder(stdout).Encode(toRecord(m))
}

func cmdGet(ctx context.Context, a api.StorageAdapter, args []string, stdout io.Writer) error {
	loc, err := oneLocation(args)
	if err != nil {
		return err
	}

	err = a.Get(ctx, loc, stdout)
	if err != nil {
		return fmt.Errorf("Get: %w", err)
	}

	return nil
}

func cmdCutout(ctx context.Context, a api.StorageAdapter, args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cutout <storageID> <cutout>...")
	}

	loc, err := locationOf(args[0])
	if err != nil {
		return err
	}

	err = a.GetCutout(ctx, loc, stdout, args[1:])
	if err != nil {
		return fmt.Errorf("GetCutout: %w", err)
	}

	return nil
}

func cmdHead(ctx context.Context, a api.StorageAdapter, args []string, stdout io.Writer) error {
	loc, err := oneLocation(args)
	if err != nil {
		return err
	}

	m, err := a.Head(ctx, loc)
	if err != nil {
		return fmt.Errorf("Head: %w", err)
	}

	return json.NewEncoder(stdout).Encode(toRecord(m))
}

func cmdDelete(ctx context.Context, a api.StorageAdapter, args []string, stdout io.Writer) error {
	loc, err := oneLocation(args)
	if err != nil {
		return err
	}

	err = a.Delete(ctx, loc)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	fmt.Fprintf(stdout, "Deleted: %s\n", loc.StorageID)
	return nil
}

// cmdList prints the metadata of every object in the given buckets, or all
// objects if none are given, one JSON object per line in storage ID order.
func cmdList(ctx context.Context, a api.StorageAdapter, args []string, stdout io.Writer) error {
	buckets := args
	if len(buckets) == 0 {
		buckets = []string{""}
	}

	var iters []api.MetadataIterator
	for _, b := range buckets {
		bi, err := a.Iterator(ctx, b)
		if err != nil {
			for _, it := range iters {
				it.Close()
			}
			return fmt.Errorf("Iterator(%q): %w", b, err)
		}
		iters = append(iters, bi)
	}

	it := iterator.NewCounting(iterator.NewMerge(ctx, iters...))
	defer it.Close()

	enc := json.NewEncoder(stdout)
	for it.Next(ctx) {
		err := enc.Encode(toRecord(it.Value()))
		if err != nil {
			return fmt.Errorf("Encode: %w", err)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	slog.Debug("listed objects", "buckets", len(buckets), "count", it.Count())
	return nil
}

// mismatch is printed by verify for each object whose content does not match
// its recorded checksum or length.
type mismatch struct {
	StorageID string `json:"storageID"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Length    int64  `json:"contentLength"`
	Read      int64  `json:"bytesRead"`
}

// cmdVerify re-reads every listed object and compares it with the checksum
// and length in its metadata. Objects with placeholder checksums are only
// checked for length.
func cmdVerify(ctx context.Context, a api.StorageAdapter, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	jobs := fs.Int("j", 8, "number of objects to read concurrently")
	err := fs.Parse(args)
	if err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("usage: verify [-j n] [bucket]")
	}

	ms, err := a.List(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("List: %w", err)
	}

	var mu sync.Mutex
	enc := json.NewEncoder(stdout)
	bad := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*jobs, 1))

	for _, m := range ms {
		g.Go(func() error {
			w := digest.NewWriter()
			err := a.Get(ctx, m.Location, w)
			if err != nil {
				if api.KindOf(err) == api.KindNotFound {
					slog.Debug("skipping vanished object", "id", m.Location.StorageID)
					return nil
				}
				return fmt.Errorf("Get(%s): %w", m.Location.StorageID, err)
			}

			if verified(m, w) {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			bad++
			return enc.Encode(mismatch{
				StorageID: m.Location.StorageID,
				Expected:  m.ContentChecksum,
				Actual:    w.Checksum(),
				Length:    m.ContentLength,
				Read:      w.Count(),
			})
		})
	}

	err = g.Wait()
	if err != nil {
		return err
	}

	slog.Info("verified objects", "count", len(ms), "mismatched", bad)
	if bad > 0 {
		return fmt.Errorf("%d of %d objects did not match", bad, len(ms))
	}

	return nil
}

func verified(m *api.StorageMetadata, w *digest.Writer) bool {
	if m.ContentLength != w.Count() {
		return false
	}
	if m.ContentChecksum == api.UnknownChecksum {
		return true
	}
	return strings.EqualFold(m.ContentChecksum, w.Checksum())
}
