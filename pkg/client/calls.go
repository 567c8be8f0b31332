package client

import (
	"context"
	"encoding/json"

	"github.com/wilsonlabs/formulaengine/pkg/proto"
	"github.com/wilsonlabs/formulaengine/pkg/transfer"
)

// flushingCall is the "Flushing" class of request: await any in-flight
// flush, synchronously flush a nonempty batch, then issue method/params
// and decode its result into out (if out is non-nil).
func (e *Engine) flushingCall(ctx context.Context, method string, params any, out any) error {
	if err := e.awaitFlush(ctx); err != nil {
		return err
	}
	return e.decodeCall(ctx, method, params, out)
}

// nonFlushingCall implements the "Non-flushing" class: send immediately,
// neither waiting for nor triggering a flush.
func (e *Engine) nonFlushingCall(ctx context.Context, method string, params any, out any) error {
	return e.decodeCall(ctx, method, params, out)
}

func (e *Engine) decodeCall(ctx context.Context, method string, params any, out any) error {
	raw, err := e.call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// --- Non-flushing (query / editor-tooling) calls ---

func (e *Engine) Ping(ctx context.Context) (string, error) {
	var out string
	err := e.nonFlushingCall(ctx, "ping", nil, &out)
	return out, err
}

func (e *Engine) GetCell(ctx context.Context, sheet, address string) (proto.GetCellResult, error) {
	var out proto.GetCellResult
	err := e.nonFlushingCall(ctx, "getCell", proto.GetCellParams{Sheet: sheet, Address: address}, &out)
	return out, err
}

func (e *Engine) GetRangeCompact(ctx context.Context, sheet, rng string) ([][2]any, error) {
	var out [][2]any
	err := e.nonFlushingCall(ctx, "getRangeCompact", rangeCallParams{Sheet: sheet, Range: rng}, &out)
	return out, err
}

func (e *Engine) GetSheetDimensions(ctx context.Context, sheet string) (proto.SheetDimensions, error) {
	var out proto.SheetDimensions
	err := e.nonFlushingCall(ctx, "getSheetDimensions", sheetOnlyCallParams{Sheet: sheet}, &out)
	return out, err
}

func (e *Engine) GetWorkbookInfo(ctx context.Context) (proto.WorkbookInfo, error) {
	var out proto.WorkbookInfo
	err := e.nonFlushingCall(ctx, "getWorkbookInfo", nil, &out)
	return out, err
}

func (e *Engine) SupportedLocaleIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := e.nonFlushingCall(ctx, "supportedLocaleIds", nil, &out)
	return out, err
}

func (e *Engine) GetLocaleInfo(ctx context.Context, localeID string) (proto.LocaleInfo, error) {
	var out proto.LocaleInfo
	err := e.nonFlushingCall(ctx, "getLocaleInfo", localeCallParams{LocaleID: localeID}, &out)
	return out, err
}

// LexFormula, LexFormulaPartial and ParseFormulaPartial accept an options
// value in the caller's choice of shape: a proto.ParseOptions, a canonical
// map[string]any
// {localeId?, referenceStyle?}, the legacy snake_case map
// {locale?, reference_style?, normalize_relative_to?}, or nil.

func (e *Engine) LexFormula(ctx context.Context, formula string, opts any) (json.RawMessage, error) {
	po, err := NormalizeParseOptions(opts)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = e.nonFlushingCall(ctx, "lexFormula", formulaCallParams{Formula: formula, Options: po}, &out)
	return out, err
}

func (e *Engine) LexFormulaPartial(ctx context.Context, formula string, cursor int, opts any) (json.RawMessage, error) {
	po, err := NormalizeParseOptions(opts)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = e.nonFlushingCall(ctx, "lexFormulaPartial", formulaCallParams{Formula: formula, Cursor: cursor, Options: po}, &out)
	return out, err
}

func (e *Engine) ParseFormulaPartial(ctx context.Context, formula string, cursor int, opts any) (json.RawMessage, error) {
	po, err := NormalizeParseOptions(opts)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = e.nonFlushingCall(ctx, "parseFormulaPartial", formulaCallParams{Formula: formula, Cursor: cursor, Options: po}, &out)
	return out, err
}

// --- Flushing calls ---

func (e *Engine) SetCells(ctx context.Context, updates []proto.CellUpdate) error {
	return e.flushingCall(ctx, "setCells", proto.SetCellsParams{Updates: updates}, nil)
}

func (e *Engine) SetCellRich(ctx context.Context, sheet, address string, value proto.CellValue) error {
	return e.flushingCall(ctx, "setCellRich", cellEditCallParams{Sheet: sheet, Address: address, Value: value}, nil)
}

func (e *Engine) SetRange(ctx context.Context, sheet, rng string, values [][]proto.CellValue) error {
	return e.flushingCall(ctx, "setRange", setRangeCallParams{Sheet: sheet, Range: rng, Values: values}, nil)
}

func (e *Engine) SetSheetDimensions(ctx context.Context, dims proto.SheetDimensions) error {
	return e.flushingCall(ctx, "setSheetDimensions", dims, nil)
}

func (e *Engine) LoadFromXlsxBytes(ctx context.Context, bytes []byte) error {
	return e.flushingCall(ctx, "loadFromXlsxBytes", bytesCallParams{Bytes: transfer.Extract(bytes)}, nil)
}

func (e *Engine) LoadFromEncryptedXlsxBytes(ctx context.Context, bytes []byte, password string) error {
	return e.flushingCall(ctx, "loadFromEncryptedXlsxBytes", encryptedXlsxCallParams{Bytes: transfer.Extract(bytes), Password: password}, nil)
}

func (e *Engine) SetCellStyleID(ctx context.Context, sheet, address string, styleID *int) error {
	return e.flushingCall(ctx, "setCellStyleId", proto.StyleIDParams{Sheet: sheet, Address: address, StyleID: styleID}, nil)
}

func (e *Engine) SetRowStyleID(ctx context.Context, sheet string, row int, styleID *int) error {
	return e.flushingCall(ctx, "setRowStyleId", proto.StyleIDParams{Sheet: sheet, Row: &row, StyleID: styleID}, nil)
}

func (e *Engine) SetColStyleID(ctx context.Context, sheet string, col int, styleID *int) error {
	return e.flushingCall(ctx, "setColStyleId", proto.StyleIDParams{Sheet: sheet, Col: &col, StyleID: styleID}, nil)
}

func (e *Engine) SetSheetDefaultStyleID(ctx context.Context, sheet string, styleID *int) error {
	return e.flushingCall(ctx, "setSheetDefaultStyleId", proto.StyleIDParams{Sheet: sheet, StyleID: styleID}, nil)
}

func (e *Engine) SetColWidth(ctx context.Context, sheet string, col int, width float64) error {
	return e.flushingCall(ctx, "setColWidth", colWidthCallParams{Sheet: sheet, Col: col, Width: width}, nil)
}

func (e *Engine) SetColWidthChars(ctx context.Context, sheet string, col int, widthChars float64) error {
	return e.flushingCall(ctx, "setColWidthChars", colWidthCharsCallParams{Sheet: sheet, Col: col, WidthChars: widthChars}, nil)
}

func (e *Engine) SetColHidden(ctx context.Context, sheet string, col int, hidden bool) error {
	return e.flushingCall(ctx, "setColHidden", colHiddenCallParams{Sheet: sheet, Col: col, Hidden: hidden}, nil)
}

func (e *Engine) SetFormatRunsByCol(ctx context.Context, p proto.SetFormatRunsByColParams) error {
	return e.flushingCall(ctx, "setFormatRunsByCol", p, nil)
}

func (e *Engine) SetSheetOrigin(ctx context.Context, sheet, origin string) error {
	return e.flushingCall(ctx, "setSheetOrigin", sheetOriginCallParams{Sheet: sheet, Origin: origin}, nil)
}

func (e *Engine) ApplyOperation(ctx context.Context, op proto.Operation) error {
	return e.flushingCall(ctx, "applyOperation", applyOperationCallParams{Op: op}, nil)
}

// --- Calls that are neither batching, flushing, nor non-flushing in the
// narrow sense (recalculate, internStyle, goalSeek, setEngineInfo,
// newWorkbook): these mutate or query kernel-global state outside the
// per-cell edit stream, so they behave like flushing calls (observe
// prior edits) to stay consistent with everything else.

func (e *Engine) NewWorkbook(ctx context.Context) error {
	return e.flushingCall(ctx, "newWorkbook", nil, nil)
}

func (e *Engine) Recalculate(ctx context.Context, sheet string) ([]proto.Delta, error) {
	var out []proto.Delta
	err := e.flushingCall(ctx, "recalculate", proto.RecalculateParams{Sheet: sheet}, &out)
	return out, err
}

func (e *Engine) InternStyle(ctx context.Context, style map[string]any) (int, error) {
	var out int
	err := e.flushingCall(ctx, "internStyle", internStyleCallParams{Style: style}, &out)
	return out, err
}

func (e *Engine) GoalSeek(ctx context.Context, p proto.GoalSeekParams) (proto.GoalSeekResult, error) {
	var out proto.GoalSeekResult
	err := e.flushingCall(ctx, "goalSeek", p, &out)
	return out, err
}

func (e *Engine) SetEngineInfo(ctx context.Context, info proto.EngineInfo) error {
	return e.flushingCall(ctx, "setEngineInfo", engineInfoCallParams{Info: info}, nil)
}

// --- wire param shapes local to the client, mirroring dispatcher/methods.go ---

type rangeCallParams struct {
	Sheet string `json:"sheet,omitempty"`
	Range string `json:"range"`
}

type sheetOnlyCallParams struct {
	Sheet string `json:"sheet,omitempty"`
}

type localeCallParams struct {
	LocaleID string `json:"localeId"`
}

type formulaCallParams struct {
	Formula string             `json:"formula"`
	Cursor  int                `json:"cursor,omitempty"`
	Options proto.ParseOptions `json:"options,omitempty"`
}

type cellEditCallParams struct {
	Sheet   string          `json:"sheet,omitempty"`
	Address string          `json:"address"`
	Value   proto.CellValue `json:"value"`
}

type setRangeCallParams struct {
	Sheet  string              `json:"sheet,omitempty"`
	Range  string              `json:"range"`
	Values [][]proto.CellValue `json:"values"`
}

type bytesCallParams struct {
	Bytes []byte `json:"bytes"`
}

type encryptedXlsxCallParams struct {
	Bytes    []byte `json:"bytes"`
	Password string `json:"password"`
}

type colWidthCallParams struct {
	Sheet string  `json:"sheet"`
	Col   int     `json:"col"`
	Width float64 `json:"width"`
}

type colWidthCharsCallParams struct {
	Sheet      string  `json:"sheet"`
	Col        int     `json:"col"`
	WidthChars float64 `json:"widthChars"`
}

type colHiddenCallParams struct {
	Sheet  string `json:"sheet"`
	Col    int    `json:"col"`
	Hidden bool   `json:"hidden"`
}

type sheetOriginCallParams struct {
	Sheet  string `json:"sheet"`
	Origin string `json:"origin"`
}

type applyOperationCallParams struct {
	Op proto.Operation `json:"op"`
}

type internStyleCallParams struct {
	Style map[string]any `json:"style"`
}

type engineInfoCallParams struct {
	Info proto.EngineInfo `json:"info"`
}
