package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/internal/pipeline"
	"github.com/jmerrifield20/logline/internal/query"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/client"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendSign         bool
	appendValidateOnly bool
	appendNewTrace     bool
	appendStamp        bool
)

var appendCmd = &cobra.Command{
	Use:   "append [file]",
	Short: "Append atomics read from a file or stdin",
	Long: `append reads one JSON atomic, or NDJSON with one atomic per line, from
the given file (or stdin when omitted) and appends each in order.

  logline append decision.json
  cat batch.ndjson | logline append --sign

The receipt of every append is printed as one JSON line. The first failure
stops the batch; atomics appended before it stay appended.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAppend,
}

func init() {
	appendCmd.Flags().BoolVar(&appendSign, "sign", false, "sign with the node key (server key with --server)")
	appendCmd.Flags().BoolVar(&appendValidateOnly, "validate-only", false, "validate and hash without persisting")
	appendCmd.Flags().BoolVar(&appendNewTrace, "new-trace", false, "assign a fresh metadata.trace_id where none is set")
	appendCmd.Flags().BoolVar(&appendStamp, "stamp", false, "set metadata.created_at to now where none is set")
}

func runAppend(cmd *cobra.Command, args []string) error {
	in, closeIn, err := openInput(args)
	if err != nil {
		return err
	}
	defer closeIn()

	atomics, err := readAtomics(in)
	if err != nil {
		return err
	}
	if len(atomics) == 0 {
		return errors.New("no atomics in input")
	}
	for _, a := range atomics {
		fillDefaults(a, appendNewTrace, appendStamp, time.Now())
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		for i, a := range atomics {
			r, err := c.Append(ctx, a, client.AppendOptions{Sign: appendSign, ValidateOnly: appendValidateOnly})
			if err != nil {
				return fmt.Errorf("atomic %d: %w", i, err)
			}
			if err := writeJSONLine(out, r); err != nil {
				return err
			}
		}
		return nil
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	opts := pipeline.Options{ValidateOnly: appendValidateOnly}
	if appendSign {
		kp, err := e.signer()
		if err != nil {
			return err
		}
		opts.SignWith = kp
	}
	p := e.pipeline()
	for i, a := range atomics {
		r, err := p.Append(ctx, a, opts)
		if err != nil {
			return fmt.Errorf("atomic %d (%s): %w", i, ledgererr.KindOf(err), err)
		}
		if err := writeJSONLine(out, r); err != nil {
			return err
		}
	}
	return nil
}

// readAtomics decodes a stream of JSON objects: a single atomic, NDJSON, or
// concatenated objects.
func readAtomics(r io.Reader) ([]*atomic.Atomic, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	var out []*atomic.Atomic
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("read atomic %d: %w", len(out), err)
		}
		a, err := atomic.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse atomic %d: %w", len(out), err)
		}
		out = append(out, a)
	}
}

func fillDefaults(a *atomic.Atomic, newTrace, stamp bool, now time.Time) {
	if !newTrace && !stamp {
		return
	}
	if a.Metadata == nil {
		a.Metadata = &atomic.Metadata{}
	}
	if newTrace && a.Metadata.TraceID == "" {
		a.Metadata.TraceID = uuid.NewString()
	}
	if stamp && a.Metadata.CreatedAt == "" {
		a.Metadata.CreatedAt = now.UTC().Format(time.RFC3339Nano)
	}
}

// ── scan ─────────────────────────────────────────────────────────────────────

var (
	scanCursor     string
	scanLimit      int
	scanStatus     string
	scanEntityType string
	scanAll        bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Page through the ledger in order",
	Long: `scan prints atomics in ledger order starting after --cursor.

  logline scan --limit 50
  logline scan --cursor 49 --entity-type decision
  logline scan --all --format table`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanCursor, "cursor", "", "resume after this cursor")
	scanCmd.Flags().IntVar(&scanLimit, "limit", ledger.DefaultLimit, "page size (max 1000)")
	scanCmd.Flags().StringVar(&scanStatus, "status", "", "only atomics with this status.state")
	scanCmd.Flags().StringVar(&scanEntityType, "entity-type", "", "only atomics of this entity type")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "follow next_cursor until the end of the ledger")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p := newPrinter(cmd.OutOrStdout())
	defer p.flush()

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		cursor := scanCursor
		for {
			page, err := c.Scan(ctx, client.ScanOptions{
				Cursor: cursor, Limit: scanLimit, Status: scanStatus, EntityType: scanEntityType,
			})
			if err != nil {
				return err
			}
			for _, rec := range page.Atomics {
				if err := p.record(rec.Cursor, rec.Atomic); err != nil {
					return err
				}
			}
			if !scanAll || !page.HasMore {
				return p.pageEnd(page.NextCursor, page.HasMore)
			}
			cursor = page.NextCursor
		}
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	engine := query.New(e.repo)
	cursor := scanCursor
	for {
		page, err := engine.Scan(ctx, ledger.ScanOptions{
			Cursor: cursor, Limit: scanLimit, Status: scanStatus, EntityType: atomic.EntityType(scanEntityType),
		}).Unwrap()
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := p.record(rec.Cursor.String(), rec.Atomic); err != nil {
				return err
			}
		}
		if !scanAll || !page.HasMore {
			return p.pageEnd(page.NextCursor, page.HasMore)
		}
		cursor = page.NextCursor
	}
}

// ── query ────────────────────────────────────────────────────────────────────

var (
	queryTraceID    string
	queryEntityType string
	queryOwnerID    string
	queryTenantID   string
	queryFrom       string
	queryTo         string
	queryLimit      int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find atomics matching filters",
	Long: `query returns every atomic matching all given filters, in ledger order.
--from and --to bound metadata.created_at inclusively and take RFC 3339.

  logline query --trace-id 7f3c... --format table
  logline query --entity-type contract --from 2024-01-01T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryTraceID, "trace-id", "", "metadata.trace_id")
	queryCmd.Flags().StringVar(&queryEntityType, "entity-type", "", "entity type")
	queryCmd.Flags().StringVar(&queryOwnerID, "owner-id", "", "metadata.owner_id")
	queryCmd.Flags().StringVar(&queryTenantID, "tenant-id", "", "metadata.tenant_id")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "earliest created_at (RFC 3339)")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "latest created_at (RFC 3339)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum results (default and max 1000)")
}

func runQuery(cmd *cobra.Command, _ []string) error {
	from, err := parseTimeFlag("from", queryFrom)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag("to", queryTo)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	p := newPrinter(cmd.OutOrStdout())
	defer p.flush()

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		recs, err := c.Query(ctx, client.QueryOptions{
			TraceID: queryTraceID, EntityType: queryEntityType, OwnerID: queryOwnerID,
			TenantID: queryTenantID, From: from, To: to, Limit: queryLimit,
		})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := p.record(rec.Cursor, rec.Atomic); err != nil {
				return err
			}
		}
		return nil
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	recs, err := query.New(e.repo).Query(ctx, ledger.QueryOptions{
		TraceID: queryTraceID, EntityType: atomic.EntityType(queryEntityType), OwnerID: queryOwnerID,
		TenantID: queryTenantID, From: from, To: to, Limit: queryLimit,
	}).Unwrap()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := p.record(rec.Cursor.String(), rec.Atomic); err != nil {
			return err
		}
	}
	return nil
}

func parseTimeFlag(name, val string) (time.Time, error) {
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC 3339: %w", name, err)
	}
	return t, nil
}

// ── get ──────────────────────────────────────────────────────────────────────

var getLineage bool

var getCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Fetch one atomic by hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getLineage, "lineage", false, "print the prev chain ending at hash, root first")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	hash := args[0]
	p := newPrinter(cmd.OutOrStdout())
	defer p.flush()

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		if getLineage {
			recs, err := c.Lineage(ctx, hash)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := p.record(rec.Cursor, rec.Atomic); err != nil {
					return err
				}
			}
			return nil
		}
		rec, err := c.Get(ctx, hash)
		if err != nil {
			return err
		}
		return p.record(rec.Cursor, rec.Atomic)
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	engine := query.New(e.repo)
	if getLineage {
		recs, err := engine.Lineage(ctx, hash).Unwrap()
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := p.record(rec.Cursor.String(), rec.Atomic); err != nil {
				return err
			}
		}
		return nil
	}
	rec, err := engine.ByHash(ctx, hash).Unwrap()
	if err != nil {
		return err
	}
	if err := ledger.VerifyAtomic(rec.Atomic, e.registry); err != nil {
		e.logger.Warn("stored atomic failed verification", zap.Error(err))
	}
	return p.record(rec.Cursor.String(), rec.Atomic)
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every hash, signature and prev link in the ledger",
	Long: `verify walks the whole ledger: it recomputes each hash, checks each
signature against the trust registry, and checks that every prev points at
the previous atomic of the same trace. It exits non-zero at the first
corrupted record and reports its cursor.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		res, err := c.Verify(ctx)
		if err != nil {
			return err
		}
		if err := writeJSON(out, res); err != nil {
			return err
		}
		if !res.Valid {
			return fmt.Errorf("ledger corrupted at cursor %s: %s", res.Report.Position, res.Error)
		}
		return nil
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	report, verr := ledger.NewVerifier(e.repo, e.registry).Verify(ctx)
	if report != nil {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	}
	return verr
}

// ── export ───────────────────────────────────────────────────────────────────

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ledger as NDJSON in ledger order",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		bw := bufio.NewWriter(f)
		defer bw.Flush()
		w = bw
	}

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		_, err := c.Export(ctx, w)
		return err
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := ledger.Export(ctx, e.repo, w)
	if err != nil {
		return fmt.Errorf("export after %d atomics: %w", n, err)
	}
	e.logger.Info("export complete", zap.Int("atomics", n))
	return nil
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print ledger totals by entity type and status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if c, ok, err := remote(); err != nil {
		return err
	} else if ok {
		s, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, s)
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := query.New(e.repo).Stats(ctx).Unwrap()
	if err != nil {
		return err
	}
	return writeJSON(out, s)
}

// ── input ────────────────────────────────────────────────────────────────────

func openInput(args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", args[0], err)
	}
	return f, func() { f.Close() }, nil
}

func readAll(args []string) ([]byte, error) {
	in, closeIn, err := openInput(args)
	if err != nil {
		return nil, err
	}
	defer closeIn()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
