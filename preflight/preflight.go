// Package preflight verifies that a deployment can serve chunks: the
// credentials, project, bucket, dataset and tables the pipeline expects.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

	"taxifare-data/schema"
	"taxifare-data/storage"
	"taxifare-data/warehouse"
)

// Expectations is what a healthy deployment looks like. Empty fields are
// not checked.
type Expectations struct {
	Env             []string
	CredentialsFile string
	Project         string
	Bucket          string
	Dataset         string
	Tables          []string
	Layout          map[string]string
	Rows            int64
}

type Result struct {
	Check string
	Err   error
}

func (r Result) Passed() bool {
	return r.Err == nil
}

type Report struct {
	Results []Result
}

// Err joins every failed check, or is nil when all passed.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if !res.Passed() {
			errs = append(errs, fmt.Errorf("%s: %w", res.Check, res.Err))
		}
	}
	return errors.Join(errs...)
}

type Checker struct {
	expect    Expectations
	catalog   warehouse.Catalog
	describer schema.Describer
	buckets   storage.Bucketer
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	logger    *log.Logger
}

type Option func(*Checker)

func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(c *Checker) {
		c.lookupEnv = lookup
	}
}

func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(c *Checker) {
		c.readFile = read
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// NewChecker builds a checker. buckets may be nil when storage is not in use.
func NewChecker(expect Expectations, catalog warehouse.Catalog, describer schema.Describer, buckets storage.Bucketer, opts ...Option) *Checker {
	c := &Checker{
		expect:    expect,
		catalog:   catalog,
		describer: describer,
		buckets:   buckets,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
		logger:    log.New("preflight"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs every check and reports each outcome. Table checks run in
// parallel.
func (c *Checker) Run(ctx context.Context) Report {
	var report Report
	add := func(check string, err error) {
		report.Results = append(report.Results, Result{Check: check, Err: err})
	}

	for _, name := range c.expect.Env {
		add("env "+name, c.checkEnv(name))
	}
	if c.expect.CredentialsFile != "" {
		add("credentials file", c.checkCredentials())
	}
	if c.expect.Project != "" {
		add("project", c.checkProject())
	}
	if c.buckets != nil {
		add("buckets", c.checkBuckets(ctx))
	}
	if c.expect.Dataset != "" {
		add("dataset "+c.expect.Dataset, c.checkDataset(ctx))
	}
	report.Results = append(report.Results, c.checkTables(ctx)...)

	for _, res := range report.Results {
		if res.Passed() {
			c.logger.Infof("ok %s", res.Check)
		} else {
			c.logger.Errorf("failed %s: %v", res.Check, res.Err)
		}
	}
	return report
}

func (c *Checker) checkEnv(name string) error {
	if v, ok := c.lookupEnv(name); !ok || v == "" {
		return fmt.Errorf("$%s is not set", name)
	}
	return nil
}

func (c *Checker) checkCredentials() error {
	data, err := c.readFile(c.expect.CredentialsFile)
	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", c.expect.CredentialsFile)
	}
	return nil
}

func (c *Checker) checkProject() error {
	if got := c.catalog.Project(); got != c.expect.Project {
		return fmt.Errorf("configured project %q differs from the active project %q", c.expect.Project, got)
	}
	return nil
}

func (c *Checker) checkBuckets(ctx context.Context) error {
	buckets, err := c.buckets.Buckets(ctx)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		return errors.New("no buckets found")
	}

	name := c.expect.Bucket
	if name == "" {
		name = c.buckets.Bucket()
	}
	if strings.ContainsAny(name, "/:") {
		return fmt.Errorf("bucket name %q must not contain '/' or ':'", name)
	}
	if !slices.Contains(buckets, name) {
		return fmt.Errorf("bucket %q does not exist", name)
	}
	return nil
}

func (c *Checker) checkDataset(ctx context.Context) error {
	datasets, err := c.catalog.Datasets(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(datasets, c.expect.Dataset) {
		return fmt.Errorf("dataset %s does not exist", c.expect.Dataset)
	}
	return nil
}

func (c *Checker) checkTables(ctx context.Context) []Result {
	if len(c.expect.Tables) == 0 {
		return nil
	}

	existing, err := c.catalog.Tables(ctx)
	if err != nil {
		return []Result{{Check: "tables", Err: err}}
	}

	results := make([][]Result, len(c.expect.Tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range c.expect.Tables {
		if !slices.Contains(existing, table) {
			results[i] = []Result{{Check: "table " + table, Err: fmt.Errorf("table %s is missing", table)}}
			continue
		}
		g.Go(func() error {
			results[i] = c.checkTable(gctx, table)
			return nil
		})
	}
	g.Wait()

	var out []Result
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (c *Checker) checkTable(ctx context.Context, table string) []Result {
	out := []Result{{Check: "table " + table}}

	if c.expect.Layout != nil {
		var err error
		ts, derr := c.describer.Describe(ctx, table)
		if derr != nil {
			err = derr
		} else {
			err = compareLayout(c.expect.Layout, ts.Layout())
		}
		out = append(out, Result{Check: "layout " + table, Err: err})
	}

	if c.expect.Rows > 0 {
		var err error
		n, cerr := c.catalog.RowCount(ctx, table)
		if cerr != nil {
			err = cerr
		} else if n != c.expect.Rows {
			err = fmt.Errorf("%d rows, want %d", n, c.expect.Rows)
		}
		out = append(out, Result{Check: "rows " + table, Err: err})
	}
	return out
}

func compareLayout(want, got map[string]string) error {
	var problems []string
	for name, typ := range want {
		actual, ok := got[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s is missing", name))
		case actual != typ:
			problems = append(problems, fmt.Sprintf("%s is %s, want %s", name, actual, typ))
		}
	}
	for name := range got {
		if _, ok := want[name]; !ok {
			problems = append(problems, fmt.Sprintf("%s is unexpected", name))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(strings.Join(problems, "; "))
}
