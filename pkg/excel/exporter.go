package excel

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/overtime"
)

// Source lists reportable overtime requests dated within [from, to]
type Source interface {
	ListReportable(ctx context.Context, from, to time.Time) ([]*models.OvertimeRequest, error)
}

// Uploader copies a local file to the share, creating folders as needed
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Config controls where workbooks are written
type Config struct {
	// DataRoot holds <root>/excel/<period>/ when TempOnly is false
	DataRoot string
	// TempOnly renders into a scratch directory that is always removed
	TempOnly bool
}

// Result describes one export run
type Result struct {
	Kind      Kind      `json:"kind"`
	Date      string    `json:"date"`
	Rows      int       `json:"rows"`
	Files     []string  `json:"files"`
	Remote    []string  `json:"remote"`
	Uploaded  bool      `json:"uploaded"`
	UploadErr string    `json:"upload_error,omitempty"`
	Finished  time.Time `json:"finished"`
}

// Exporter renders the workbooks of a date or period and ships them
type Exporter struct {
	source   Source
	uploader Uploader
	cfg      Config
	logger   *logrus.Entry
	now      func() time.Time

	// one export per output folder at a time
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExporter creates an exporter. uploader may be nil to skip the share.
func NewExporter(source Source, uploader Uploader, cfg Config, logger *logrus.Entry) *Exporter {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Exporter{
		source:   source,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger.WithField("component", "excel-exporter"),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Exporter) dirLock(dir string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		e.locks[dir] = l
	}
	return l
}

// ExportDaily renders and ships the Form and Summary of one date
func (e *Exporter) ExportDaily(ctx context.Context, date time.Time) (*Result, error) {
	date = overtime.DateOnly(date)
	reqs, err := e.source.ListReportable(ctx, date, date)
	if err != nil {
		return nil, fmt.Errorf("load overtime for %s: %w", date.Format("2006-01-02"), err)
	}
	groups := overtime.GroupByDepartment(reqs)
	r := Renderer{Stamp: date}

	return e.export(ctx, KindDaily, date, overtime.PeriodFor(date), len(reqs),
		func() (*Workbook, error) { return r.DailyForm(date, groups) },
		func() (*Workbook, error) { return r.DailySummary(date, groups) },
	)
}

// ExportMonthly renders and ships the Form and Summary of the period
// enclosing date
func (e *Exporter) ExportMonthly(ctx context.Context, date time.Time) (*Result, error) {
	p := overtime.PeriodFor(overtime.DateOnly(date))
	reqs, err := e.source.ListReportable(ctx, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("load overtime for period %s: %w", p.Dir(), err)
	}
	groups := overtime.GroupByDepartment(reqs)
	r := Renderer{Stamp: p.Start}

	return e.export(ctx, KindMonthly, p.Start, p, len(reqs),
		func() (*Workbook, error) { return r.MonthlyForm(p, groups) },
		func() (*Workbook, error) { return r.MonthlySummary(p, groups) },
	)
}

func (e *Exporter) export(ctx context.Context, kind Kind, date time.Time, p overtime.Period, rows int, renders ...func() (*Workbook, error)) (*Result, error) {
	log := e.logger.WithFields(logrus.Fields{
		"kind":   string(kind),
		"date":   date.Format("2006-01-02"),
		"period": p.Dir(),
		"rows":   rows,
	})

	dir, cleanup, err := e.outputDir(p)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	lock := e.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	books := make([]*Workbook, len(renders))
	g, _ := errgroup.WithContext(ctx)
	for i, render := range renders {
		i, render := i, render
		g.Go(func() error {
			wb, err := render()
			if err != nil {
				return err
			}
			books[i] = wb
			return nil
		})
	}
	err = g.Wait()
	defer func() {
		for _, wb := range books {
			if wb != nil {
				wb.File.Close()
			}
		}
	}()
	if err != nil {
		log.WithError(err).Error("render failed")
		return nil, fmt.Errorf("render %s workbooks: %w", kind, err)
	}

	res := &Result{Kind: kind, Date: date.Format("2006-01-02"), Rows: rows}
	for _, wb := range books {
		local := filepath.Join(dir, wb.Name)
		if err := wb.File.SaveAs(local); err != nil {
			os.Remove(local)
			return nil, fmt.Errorf("save %s: %w", wb.Name, err)
		}
		res.Files = append(res.Files, local)
	}

	if e.uploader != nil {
		res.Uploaded = true
		for i, wb := range books {
			remote := path.Join(p.Dir(), wb.Name)
			if err := e.uploader.Upload(ctx, res.Files[i], remote); err != nil {
				res.Uploaded = false
				res.UploadErr = err.Error()
				log.WithError(err).WithField("remote_path", remote).Error("upload failed")
				break
			}
			res.Remote = append(res.Remote, remote)
		}
	}
	if e.tempOnly() {
		res.Files = nil
	}

	res.Finished = e.now()
	log.WithField("uploaded", res.Uploaded).Info("export finished")
	return res, nil
}

func (e *Exporter) tempOnly() bool {
	return e.cfg.TempOnly || e.cfg.DataRoot == ""
}

// outputDir returns the folder for a period and the cleanup to run when the
// export ends. Temp-only folders are removed on every path.
func (e *Exporter) outputDir(p overtime.Period) (string, func(), error) {
	if e.tempOnly() {
		dir, err := os.MkdirTemp("", "ptbhub-excel-*")
		if err != nil {
			return "", nil, fmt.Errorf("create temp dir: %w", err)
		}
		return dir, func() {
			if err := os.RemoveAll(dir); err != nil {
				e.logger.WithError(err).WithField("dir", dir).Warn("temp cleanup failed")
			}
		}, nil
	}
	dir := filepath.Join(e.cfg.DataRoot, "excel", p.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, func() {}, nil
}
