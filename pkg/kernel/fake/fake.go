// Package fake provides a minimal in-memory Kernel used to wire and test
// the dispatcher and client without a real WASM-hosted formula evaluator.
// It stores cell scalars per (sheet, address) and recomputes nothing — it
// is not a formula engine, only enough bookkeeping to make the RPC
// methods' observable behavior (round trips, deltas, style ids, goal
// seek's shape) checkable.
package fake

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/wilsonlabs/formulaengine/pkg/proto"
)

const defaultSheet = "Sheet1"

type cellKey struct {
	sheet, address string
}

// Kernel is a deterministic, dependency-free stand-in for the opaque
// compute kernel (spec §1 — the evaluator is an external collaborator).
type Kernel struct {
	sheets   []string
	cells    map[cellKey]proto.CellValue
	inputs   map[cellKey]string
	styles   map[int]map[string]any
	styleSeq int
	origin   string
	info     proto.EngineInfo
}

// New returns a fresh Kernel as if newWorkbook had just been called.
func New() *Kernel {
	k := &Kernel{}
	_ = k.NewWorkbook()
	return k
}

func (k *Kernel) NewWorkbook() error {
	k.sheets = []string{defaultSheet}
	k.cells = make(map[cellKey]proto.CellValue)
	k.inputs = make(map[cellKey]string)
	k.styles = make(map[int]map[string]any)
	k.styleSeq = 0
	return nil
}

func (k *Kernel) resolveSheet(sheet string) string {
	sheet = proto.NormalizeSheetName(sheet)
	if sheet == "" {
		if len(k.sheets) == 0 {
			return defaultSheet
		}
		return k.sheets[0]
	}
	for _, s := range k.sheets {
		if s == sheet {
			return s
		}
	}
	k.sheets = append(k.sheets, sheet)
	return sheet
}

func (k *Kernel) LoadFromXlsxBytes(bytes []byte) error {
	return k.NewWorkbook()
}

func (k *Kernel) LoadFromEncryptedXlsxBytes(bytes []byte, password string) error {
	if password == "" {
		return fmt.Errorf("fake kernel: password required")
	}
	return k.NewWorkbook()
}

func (k *Kernel) SetCell(sheet, address string, value proto.CellValue) error {
	sheet = k.resolveSheet(sheet)
	key := cellKey{sheet, address}
	if value.Scalar == nil && value.Rich == "" {
		delete(k.cells, key)
		delete(k.inputs, key)
		return nil
	}
	k.cells[key] = value
	return nil
}

func (k *Kernel) SetCells(updates []proto.CellUpdate) error {
	for _, u := range updates {
		if err := k.SetCell(u.Sheet, u.Address, u.Value); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) SetCellRich(sheet, address string, value proto.CellValue) error {
	return k.SetCell(sheet, address, value)
}

func (k *Kernel) SetRange(sheet, rng string, values [][]proto.CellValue) error {
	start, _, err := parseRange(rng)
	if err != nil {
		return err
	}
	for r, row := range values {
		for c, v := range row {
			addr := proto.Address{Col: start.Col + c, Row: start.Row + r}
			if err := k.SetCell(sheet, addr.String(), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (k *Kernel) SetSheetDimensions(dims proto.SheetDimensions) error {
	k.resolveSheet(dims.Sheet)
	return nil
}

func (k *Kernel) GetSheetDimensions(sheet string) (proto.SheetDimensions, error) {
	sheet = k.resolveSheet(sheet)
	maxRow, maxCol := 0, 0
	for key := range k.cells {
		if key.sheet != sheet {
			continue
		}
		a, err := proto.ParseAddress(key.address)
		if err != nil {
			continue
		}
		if a.Row > maxRow {
			maxRow = a.Row
		}
		if a.Col > maxCol {
			maxCol = a.Col
		}
	}
	return proto.SheetDimensions{Sheet: sheet, Rows: maxRow, Cols: maxCol}, nil
}

// Recalculate returns every live cell as a delta, ordered by (sheet insertion
// index, row, col) per spec §6 — the fake has no dependency graph, so
// "recalculating" just means "report current state" deterministically.
func (k *Kernel) Recalculate(sheet string) ([]proto.Delta, error) {
	sheetIndex := make(map[string]int, len(k.sheets))
	for i, s := range k.sheets {
		sheetIndex[s] = i
	}
	type entry struct {
		d   proto.Delta
		idx int
	}
	var entries []entry
	for key, v := range k.cells {
		a, err := proto.ParseAddress(key.address)
		if err != nil {
			continue
		}
		var value *proto.CellValue
		if v.Scalar != nil || v.Rich != "" {
			vv := v
			value = &vv
		}
		entries = append(entries, entry{
			d:   proto.Delta{Sheet: key.sheet, Row: a.Row - 1, Col: a.Col - 1, Value: value},
			idx: sheetIndex[key.sheet],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].idx != entries[j].idx {
			return entries[i].idx < entries[j].idx
		}
		if entries[i].d.Row != entries[j].d.Row {
			return entries[i].d.Row < entries[j].d.Row
		}
		return entries[i].d.Col < entries[j].d.Col
	})
	deltas := make([]proto.Delta, len(entries))
	for i, e := range entries {
		deltas[i] = e.d
	}
	return deltas, nil
}

func (k *Kernel) GetCell(sheet, address string) (proto.GetCellResult, error) {
	sheet = k.resolveSheet(sheet)
	key := cellKey{sheet, address}
	return proto.GetCellResult{
		Sheet:   sheet,
		Address: address,
		Input:   k.inputs[key],
		Value:   k.cells[key],
	}, nil
}

func (k *Kernel) GetRangeCompact(sheet, rng string) ([][2]any, error) {
	start, end, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	var out [][2]any
	for r := start.Row; r <= end.Row; r++ {
		for c := start.Col; c <= end.Col; c++ {
			addr := proto.Address{Col: c, Row: r}
			res, _ := k.GetCell(sheet, addr.String())
			out = append(out, [2]any{res.Input, res.Value.Scalar})
		}
	}
	return out, nil
}

func (k *Kernel) InternStyle(style map[string]any) (int, error) {
	k.styleSeq++
	id := k.styleSeq
	k.styles[id] = style
	return id, nil
}

func (k *Kernel) SetCellStyleID(sheet, address string, styleID *int) error {
	return nil // fake kernel does not track per-cell style ids
}

func (k *Kernel) SetCellStyleIDLegacy(address string, styleID int, sheet string) error {
	return k.SetCellStyleID(sheet, address, &styleID)
}

func (k *Kernel) SetRowStyleID(sheet string, row int, styleID *int) error          { return nil }
func (k *Kernel) SetColStyleID(sheet string, col int, styleID *int) error          { return nil }
func (k *Kernel) SetSheetDefaultStyleID(sheet string, styleID *int) error          { return nil }
func (k *Kernel) SetColWidth(sheet string, col int, width float64) error           { return nil }
func (k *Kernel) SetColWidthChars(sheet string, col int, widthChars float64) error { return nil }
func (k *Kernel) SetColHidden(sheet string, col int, hidden bool) error            { return nil }

func (k *Kernel) SetFormatRunsByCol(p proto.SetFormatRunsByColParams) error {
	k.resolveSheet(p.Sheet)
	return nil
}

func (k *Kernel) ApplyOperation(op proto.Operation) error {
	k.resolveSheet(op.Sheet)
	switch op.Type {
	case "InsertRows", "DeleteRows", "InsertCols", "DeleteCols",
		"InsertCellsShiftRight", "InsertCellsShiftDown",
		"DeleteCellsShiftLeft", "DeleteCellsShiftUp",
		"MoveRange", "CopyRange", "Fill":
		return nil
	default:
		return fmt.Errorf("fake kernel: unknown operation type %q", op.Type)
	}
}

func (k *Kernel) GoalSeek(p proto.GoalSeekParams) (proto.GoalSeekResult, error) {
	current, _ := k.GetCell(p.Sheet, p.ChangingCell)
	var currentVal float64
	if f, ok := current.Value.Scalar.(float64); ok {
		currentVal = f
	}
	solution := currentVal
	finalOutput := p.TargetValue
	finalError := 0.0
	if err := k.SetCell(p.Sheet, p.ChangingCell, proto.CellValue{Scalar: solution}); err != nil {
		return proto.GoalSeekResult{}, err
	}
	deltas, err := k.Recalculate(p.Sheet)
	if err != nil {
		return proto.GoalSeekResult{}, err
	}
	return proto.GoalSeekResult{
		Result: proto.GoalSeekOutcome{
			Status:      "ok",
			Solution:    solution,
			FinalOutput: finalOutput,
			FinalError:  finalError,
		},
		Changes: deltas,
	}, nil
}

func (k *Kernel) SetEngineInfo(info proto.EngineInfo) error {
	if info.Memavail != nil {
		if math.IsInf(*info.Memavail, 0) || math.IsNaN(*info.Memavail) {
			return fmt.Errorf("fake kernel: memavail must be finite")
		}
	}
	if info.Totmem != nil {
		if math.IsInf(*info.Totmem, 0) || math.IsNaN(*info.Totmem) {
			return fmt.Errorf("fake kernel: totmem must be finite")
		}
	}
	if info.Memavail != nil {
		k.info.Memavail = info.Memavail
	}
	if info.Totmem != nil {
		k.info.Totmem = info.Totmem
	}
	return nil
}

func (k *Kernel) SetSheetOrigin(sheet, origin string) error {
	k.resolveSheet(sheet)
	k.origin = origin
	return nil
}

func (k *Kernel) SupportedLocaleIDs() []string {
	return []string{"en-US", "en-GB", "fr-FR", "de-DE"}
}

func (k *Kernel) GetLocaleInfo(localeID string) (proto.LocaleInfo, error) {
	switch localeID {
	case "fr-FR", "de-DE":
		return proto.LocaleInfo{LocaleID: localeID, DecimalSep: ",", ArgSep: ";", ThousandsSep: " "}, nil
	default:
		return proto.LocaleInfo{LocaleID: localeID, DecimalSep: ".", ArgSep: ",", ThousandsSep: ","}, nil
	}
}

func (k *Kernel) LexFormula(formula string, opts proto.ParseOptions) (any, error) {
	return map[string]any{"tokens": strings.Fields(formula)}, nil
}

func (k *Kernel) LexFormulaPartial(formula string, cursor int, opts proto.ParseOptions) (any, error) {
	if cursor < 0 || cursor > len(formula) {
		return nil, fmt.Errorf("fake kernel: cursor out of range")
	}
	return map[string]any{"tokens": strings.Fields(formula[:cursor])}, nil
}

func (k *Kernel) ParseFormulaPartial(formula string, cursor int, opts proto.ParseOptions) (any, error) {
	toks, err := k.LexFormulaPartial(formula, cursor, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"context": toks}, nil
}

func (k *Kernel) GetWorkbookInfo() (proto.WorkbookInfo, error) {
	return proto.WorkbookInfo{Sheets: append([]string(nil), k.sheets...), OriginPath: k.origin}, nil
}

func parseRange(rng string) (proto.Address, proto.Address, error) {
	parts := strings.SplitN(rng, ":", 2)
	start, err := proto.ParseAddress(parts[0])
	if err != nil {
		return proto.Address{}, proto.Address{}, err
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err := proto.ParseAddress(parts[1])
	if err != nil {
		return proto.Address{}, proto.Address{}, err
	}
	return start, end, nil
}
