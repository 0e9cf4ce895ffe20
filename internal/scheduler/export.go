package scheduler

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/voyagehub/assetsync/internal/repositories/records"
	"github.com/voyagehub/assetsync/internal/storage"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportReport is the outcome of exporting one record kind.
type ExportReport struct {
	Kind     records.Kind
	Rows     int
	ObjectID string
	Err      error
}

// MasterName is the object name of the spreadsheet for kind.
func MasterName(kind records.Kind) string {
	return "master_" + string(kind) + ".xlsx"
}

// runExports writes one full snapshot per kind into a folder named after
// today's date, replacing any previous version there. Re-running on the
// same day converges to the same single object per kind.
func (s *Scheduler) runExports(ctx context.Context) []ExportReport {
	if s.records == nil || len(s.exportKinds) == 0 {
		return nil
	}

	reports := make([]ExportReport, 0, len(s.exportKinds))
	folderID, err := s.exportFolder(ctx)
	if err != nil {
		s.log.Error(ctx, "export folder unavailable", "key", s.exportKey, "error", err)
		for _, k := range s.exportKinds {
			reports = append(reports, ExportReport{Kind: k, Err: err})
		}
		return reports
	}

	for _, k := range s.exportKinds {
		r := s.exportKind(ctx, folderID, k)
		if r.Err != nil {
			s.log.Error(ctx, "export failed", "kind", k, "error", r.Err)
		} else {
			s.log.Info(ctx, "export written", "kind", k, "rows", r.Rows, "object", r.ObjectID)
		}
		reports = append(reports, r)
	}
	return reports
}

func (s *Scheduler) exportFolder(ctx context.Context) (string, error) {
	root, err := s.storage.ResolveFolder(ctx, s.exportKey)
	if err != nil {
		return "", err
	}
	return s.storage.FolderPath(ctx, root, s.now().Format("2006-01-02"))
}

func (s *Scheduler) exportKind(ctx context.Context, folderID string, kind records.Kind) ExportReport {
	r := ExportReport{Kind: kind}

	table, err := s.records.Snapshot(ctx, kind)
	if err != nil {
		r.Err = fmt.Errorf("snapshot %s: %w", kind, err)
		return r
	}
	data, err := BuildWorkbook(table)
	if err != nil {
		r.Err = fmt.Errorf("workbook %s: %w", kind, err)
		return r
	}

	res, err := s.storage.Replace(ctx, folderID, MasterName(kind), xlsxMime, data, storage.Private)
	if err != nil {
		r.Err = fmt.Errorf("upload %s: %w", kind, err)
		return r
	}
	r.Rows = len(table.Rows)
	r.ObjectID = res.ObjectID
	return r
}

// BuildWorkbook renders table into an xlsx file with a bold header row.
func BuildWorkbook(table *records.Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, err
	}

	header := make([]any, len(table.Header))
	for i, h := range table.Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return nil, err
	}

	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
