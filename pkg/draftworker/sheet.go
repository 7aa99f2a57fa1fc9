package draftworker

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/partnerops/draftforge/pkg/workitem"
)

// ExcelSheetWriter renders the run summary as an xlsx workbook with
// one row per drafted product.
type ExcelSheetWriter struct{}

const sheetName = "Drafted Products"

func (ExcelSheetWriter) WriteSheet(path string, drafts []Draft) error {
	wb := excelize.NewFile()
	defer wb.Close()

	idx, err := wb.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	wb.SetActiveSheet(idx)
	_ = wb.DeleteSheet("Sheet1")

	headers := []string{"SPU Code", "Title", "Variants", "Folder"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := wb.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for row, d := range drafts {
		title, _ := d.Item["title"].(string)
		values := []any{d.SPUCode, title, len(workitem.Variants(d.Item)), d.Folder}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := wb.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", row+1, err)
			}
		}
	}

	if err := wb.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
