package proto

// This file holds the concrete param/result shapes for the RPC method
// catalog (spec §6). They live in proto, not in dispatcher or client,
// because both sides need to agree on the same JSON shape and neither
// package should import the other just for a struct definition.

// CellValue is the scalar-or-rich value carried by a cell. A nil Scalar
// together with an empty Rich represents a cleared (sparse) cell.
type CellValue struct {
	Scalar any    `json:"scalar,omitempty"`
	Rich   string `json:"rich,omitempty"`
}

// CellUpdate is one entry of a setCells bulk-update request.
type CellUpdate struct {
	Sheet   string    `json:"sheet,omitempty"`
	Address string    `json:"address"`
	Value   CellValue `json:"value"`
}

// SetCellsParams is the params shape for setCells (also the shape every
// setCell micro-batch flush eventually sends, per spec §4.3).
type SetCellsParams struct {
	Updates []CellUpdate `json:"updates"`
}

// GetCellParams / GetCellResult implement getCell.
type GetCellParams struct {
	Sheet   string `json:"sheet,omitempty"`
	Address string `json:"address"`
}

type GetCellResult struct {
	Sheet   string    `json:"sheet"`
	Address string    `json:"address"`
	Input   string    `json:"input,omitempty"`
	Value   CellValue `json:"value"`
}

// SheetDimensions implements getSheetDimensions / setSheetDimensions.
type SheetDimensions struct {
	Sheet string `json:"sheet"`
	Rows  int    `json:"rows"`
	Cols  int    `json:"cols"`
}

// Delta is one cell change returned by recalculate, in deterministic
// (sheet, row, col) order per spec §6 "Numeric semantics" — sheet compared
// by workbook insertion order, row/col 0-indexed. Value is a pointer so a
// blank result serializes as an explicit JSON null rather than an omitted
// or "undefined" field — spec §4.2: "the dispatcher normalizes them to
// explicit null before responding."
type Delta struct {
	Sheet string     `json:"sheet"`
	Row   int        `json:"row"`
	Col   int        `json:"col"`
	Value *CellValue `json:"value"`
}

// RecalculateParams is the params shape for recalculate. Sheet is
// informational only: per spec §9 Open Questions, recalculate does not
// filter its returned deltas by Sheet.
type RecalculateParams struct {
	Sheet string `json:"sheet,omitempty"`
}

// FormatRun is one run in a setFormatRunsByCol request.
type FormatRun struct {
	StartRow   int `json:"startRow"`
	EndRowExcl int `json:"endRowExclusive"`
	StyleID    int `json:"styleId"`
}

type SetFormatRunsByColParams struct {
	Sheet string      `json:"sheet"`
	Col   int         `json:"col"`
	Runs  []FormatRun `json:"runs"`
}

// StyleIDParams covers setCellStyleId / setRowStyleId / setColStyleId /
// setSheetDefaultStyleId. StyleID == nil means "clear style", forwarded to
// the kernel as the sentinel 0 per spec §4.2.
type StyleIDParams struct {
	Sheet   string `json:"sheet"`
	Address string `json:"address,omitempty"`
	Row     *int   `json:"row,omitempty"`
	Col     *int   `json:"col,omitempty"`
	StyleID *int   `json:"styleId"`
}

// GoalSeekParams / GoalSeekResult implement goalSeek, including the legacy
// flat-result normalization (reconstructing finalOutput from targetValue
// and finalError when a legacy kernel build omits it).
type GoalSeekParams struct {
	Sheet          string  `json:"sheet"`
	TargetCell     string  `json:"targetCell"`
	TargetValue    float64 `json:"targetValue"`
	ChangingCell   string  `json:"changingCell"`
	DerivativeStep float64 `json:"derivativeStep,omitempty"`
}

type GoalSeekOutcome struct {
	Status      string  `json:"status"`
	Solution    float64 `json:"solution"`
	FinalOutput float64 `json:"finalOutput"`
	FinalError  float64 `json:"finalError"`
}

type GoalSeekResult struct {
	Result  GoalSeekOutcome `json:"result"`
	Changes []Delta         `json:"changes"`
}

// EngineInfo implements setEngineInfo. Memavail/Totmem must be finite when
// present (spec §4.2). The dispatcher accepts an empty string for either
// but decodes it the same as an absent field (nil): the kernel keeps its
// current value, and nothing is reset to a default.
type EngineInfo struct {
	Memavail *float64 `json:"memavail,omitempty"`
	Totmem   *float64 `json:"totmem,omitempty"`
}

// Operation is the tagged edit-operation union (spec §6 edit operation tag
// set). Type selects which of the remaining fields are meaningful; unused
// fields are simply left zero.
type Operation struct {
	Type string `json:"type"`

	Sheet string `json:"sheet,omitempty"`

	// InsertRows/DeleteRows/InsertCols/DeleteCols
	At    int `json:"at,omitempty"`
	Count int `json:"count,omitempty"`

	// InsertCellsShiftRight/Down, DeleteCellsShiftLeft/Up
	Range string `json:"range,omitempty"`

	// MoveRange/CopyRange
	Source string `json:"source,omitempty"`
	Dest   string `json:"dest,omitempty"`

	// Fill
	FillRange  string `json:"fillRange,omitempty"`
	FillSource string `json:"fillSource,omitempty"`
}

// ParseOptions is the canonical option-object shape for the editor-tooling
// methods (lexFormula, lexFormulaPartial, parseFormulaPartial). The client
// normalizes the legacy snake_case shape into this one before it ever
// reaches the wire (spec §4.3, §9 Open Question #1).
type ParseOptions struct {
	LocaleID       string `json:"localeId,omitempty"`
	ReferenceStyle string `json:"referenceStyle,omitempty"` // "A1" or "R1C1"
}

// LocaleInfo is the result of getLocaleInfo.
type LocaleInfo struct {
	LocaleID     string `json:"localeId"`
	DecimalSep   string `json:"decimalSeparator"`
	ArgSep       string `json:"argumentSeparator"`
	ThousandsSep string `json:"thousandsSeparator"`
}

// WorkbookInfo is the result of getWorkbookInfo.
type WorkbookInfo struct {
	Path       string   `json:"path,omitempty"`
	OriginPath string   `json:"origin_path,omitempty"`
	Sheets     []string `json:"sheets"`
}
