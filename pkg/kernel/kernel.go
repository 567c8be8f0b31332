// Package kernel defines the boundary to the opaque compute kernel the
// dispatcher drives. The formula evaluator itself is out of scope (spec §1
// "deliberately out of scope ... treated as an opaque compute kernel
// invoked by RPC methods"); this package only states the contract.
//
// kernel/fake ships a minimal implementation sufficient to exercise the
// dispatcher and client end to end in tests — it is not a formula
// evaluator (no formula language, no dependency graph), just enough cell
// storage and bookkeeping to make the RPC methods observably correct.
package kernel

import "github.com/wilsonlabs/formulaengine/pkg/proto"

// BulkSetter is implemented by kernels that can apply many cell updates in
// one call. The dispatcher prefers this and falls back to per-cell SetCell
// when a kernel build doesn't implement it (spec §4.2).
type BulkSetter interface {
	SetCells(updates []proto.CellUpdate) error
}

// LegacyStyleSetter is implemented by older kernel builds whose
// setCellStyleId takes the sheet as the last, not first, positional
// argument. The dispatcher probes for this interface and routes
// accordingly (spec §4.2).
type LegacyStyleSetter interface {
	SetCellStyleIDLegacy(address string, styleID int, sheet string) error
}

// Kernel is the full compute surface the dispatcher's method table may
// call into. Every method below is required; the only optional
// capabilities the dispatcher probes for are BulkSetter and
// LegacyStyleSetter above. The dispatcher never answers with
// proto.ErrCapabilityUnavailable: there is no per-method capability check.
type Kernel interface {
	NewWorkbook() error
	LoadFromXlsxBytes(bytes []byte) error
	LoadFromEncryptedXlsxBytes(bytes []byte, password string) error

	SetCell(sheet, address string, value proto.CellValue) error
	SetCellRich(sheet, address string, value proto.CellValue) error
	SetRange(sheet, rng string, values [][]proto.CellValue) error

	SetSheetDimensions(dims proto.SheetDimensions) error
	GetSheetDimensions(sheet string) (proto.SheetDimensions, error)

	Recalculate(sheet string) ([]proto.Delta, error)

	GetCell(sheet, address string) (proto.GetCellResult, error)
	GetRangeCompact(sheet, rng string) ([][2]any, error)

	InternStyle(style map[string]any) (int, error)
	SetCellStyleID(sheet, address string, styleID *int) error
	SetRowStyleID(sheet string, row int, styleID *int) error
	SetColStyleID(sheet string, col int, styleID *int) error
	SetSheetDefaultStyleID(sheet string, styleID *int) error
	SetColWidth(sheet string, col int, width float64) error
	SetColWidthChars(sheet string, col int, widthChars float64) error
	SetColHidden(sheet string, col int, hidden bool) error
	SetFormatRunsByCol(p proto.SetFormatRunsByColParams) error

	ApplyOperation(op proto.Operation) error

	GoalSeek(p proto.GoalSeekParams) (proto.GoalSeekResult, error)

	SetEngineInfo(info proto.EngineInfo) error
	SetSheetOrigin(sheet, origin string) error

	SupportedLocaleIDs() []string
	GetLocaleInfo(localeID string) (proto.LocaleInfo, error)

	LexFormula(formula string, opts proto.ParseOptions) (any, error)
	LexFormulaPartial(formula string, cursor int, opts proto.ParseOptions) (any, error)
	ParseFormulaPartial(formula string, cursor int, opts proto.ParseOptions) (any, error)

	GetWorkbookInfo() (proto.WorkbookInfo, error)
}
