package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/wilsonlabs/formulaengine/pkg/kernel"
	"github.com/wilsonlabs/formulaengine/pkg/proto"
)

// handlerFunc is the shape of every method-table entry: decode params,
// drive the kernel, return the result to be JSON-marshaled into the
// Response, or an error to become Response.Error.
type handlerFunc func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error)

func decode[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, fmt.Errorf("invalid params: %w", err)
	}
	return v, nil
}

func buildMethodTable() map[string]handlerFunc {
	m := map[string]handlerFunc{}

	m["ping"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		return "pong", nil
	}

	m["newWorkbook"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		return nil, k.NewWorkbook()
	}

	m["loadFromXlsxBytes"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[bytesParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.LoadFromXlsxBytes(p.Bytes)
	}

	m["loadFromEncryptedXlsxBytes"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[encryptedXlsxParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.LoadFromEncryptedXlsxBytes(p.Bytes, p.Password)
	}

	m["setCells"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.SetCellsParams](params)
		if err != nil {
			return nil, err
		}
		for i := range p.Updates {
			p.Updates[i].Sheet = proto.NormalizeSheetName(p.Updates[i].Sheet)
		}
		// Prefer the kernel's bulk entrypoint; fall back to per-cell set if
		// this kernel build doesn't implement it (spec §4.2).
		if bulk, ok := k.(kernel.BulkSetter); ok {
			return nil, bulk.SetCells(p.Updates)
		}
		for _, u := range p.Updates {
			if err := k.SetCell(u.Sheet, u.Address, u.Value); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	m["setCellRich"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[cellEditParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.SetCellRich(proto.NormalizeSheetName(p.Sheet), p.Address, p.Value)
	}

	m["setRange"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[setRangeParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.SetRange(proto.NormalizeSheetName(p.Sheet), p.Range, p.Values)
	}

	m["setSheetDimensions"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.SheetDimensions](params)
		if err != nil {
			return nil, err
		}
		p.Sheet = proto.NormalizeSheetName(p.Sheet)
		return nil, k.SetSheetDimensions(p)
	}

	m["getSheetDimensions"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[sheetOnlyParams](params)
		if err != nil {
			return nil, err
		}
		return k.GetSheetDimensions(proto.NormalizeSheetName(p.Sheet))
	}

	m["recalculate"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.RecalculateParams](params)
		if err != nil {
			return nil, err
		}
		// Per spec §9 Open Questions: recalculate does not filter its
		// returned deltas by the optional sheet argument, even though the
		// argument is accepted.
		return k.Recalculate(proto.NormalizeSheetName(p.Sheet))
	}

	m["getCell"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.GetCellParams](params)
		if err != nil {
			return nil, err
		}
		return k.GetCell(proto.NormalizeSheetName(p.Sheet), p.Address)
	}

	m["getRangeCompact"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[rangeParams](params)
		if err != nil {
			return nil, err
		}
		return k.GetRangeCompact(proto.NormalizeSheetName(p.Sheet), p.Range)
	}

	m["internStyle"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[internStyleParams](params)
		if err != nil {
			return nil, err
		}
		return k.InternStyle(p.Style)
	}

	m["setCellStyleId"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.StyleIDParams](params)
		if err != nil {
			return nil, err
		}
		p.Sheet = proto.NormalizeSheetName(p.Sheet)
		id := clearingSentinel(p.StyleID)
		// Legacy kernels may only export a sheet-last signature; probe for
		// it and route accordingly (spec §4.2).
		if legacy, ok := k.(kernel.LegacyStyleSetter); ok {
			return nil, legacy.SetCellStyleIDLegacy(p.Address, id, p.Sheet)
		}
		return nil, k.SetCellStyleID(p.Sheet, p.Address, &id)
	}

	m["setRowStyleId"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.StyleIDParams](params)
		if err != nil {
			return nil, err
		}
		if p.Row == nil {
			return nil, fmt.Errorf("setRowStyleId: row is required")
		}
		id := clearingSentinel(p.StyleID)
		return nil, k.SetRowStyleID(proto.NormalizeSheetName(p.Sheet), *p.Row, &id)
	}

	m["setColStyleId"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.StyleIDParams](params)
		if err != nil {
			return nil, err
		}
		if p.Col == nil {
			return nil, fmt.Errorf("setColStyleId: col is required")
		}
		id := clearingSentinel(p.StyleID)
		return nil, k.SetColStyleID(proto.NormalizeSheetName(p.Sheet), *p.Col, &id)
	}

	m["setSheetDefaultStyleId"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.StyleIDParams](params)
		if err != nil {
			return nil, err
		}
		id := clearingSentinel(p.StyleID)
		return nil, k.SetSheetDefaultStyleID(proto.NormalizeSheetName(p.Sheet), &id)
	}

	m["setColWidth"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[colWidthParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.SetColWidth(proto.NormalizeSheetName(p.Sheet), p.Col, p.Width)
	}

	m["setColWidthChars"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[colWidthCharsParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.SetColWidthChars(proto.NormalizeSheetName(p.Sheet), p.Col, p.WidthChars)
	}

	m["setColHidden"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[colHiddenParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.SetColHidden(proto.NormalizeSheetName(p.Sheet), p.Col, p.Hidden)
	}

	m["setFormatRunsByCol"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.SetFormatRunsByColParams](params)
		if err != nil {
			return nil, err
		}
		p.Sheet = proto.NormalizeSheetName(p.Sheet)
		return nil, k.SetFormatRunsByCol(p)
	}

	m["applyOperation"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[applyOperationParams](params)
		if err != nil {
			return nil, err
		}
		p.Op.Sheet = proto.NormalizeSheetName(p.Op.Sheet)
		return nil, k.ApplyOperation(p.Op)
	}

	m["goalSeek"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[proto.GoalSeekParams](params)
		if err != nil {
			return nil, err
		}
		p.Sheet = proto.NormalizeSheetName(p.Sheet)
		result, err := k.GoalSeek(p)
		if err != nil {
			return nil, err
		}
		return normalizeGoalSeek(result, p.TargetValue), nil
	}

	m["setEngineInfo"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[engineInfoParams](params)
		if err != nil {
			return nil, err
		}
		info, err := decodeEngineInfo(p.Info)
		if err != nil {
			return nil, err
		}
		return nil, k.SetEngineInfo(info)
	}

	m["setSheetOrigin"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[sheetOriginParams](params)
		if err != nil {
			return nil, err
		}
		return nil, k.SetSheetOrigin(proto.NormalizeSheetName(p.Sheet), p.Origin)
	}

	m["supportedLocaleIds"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		return k.SupportedLocaleIDs(), nil
	}

	m["getLocaleInfo"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[localeParams](params)
		if err != nil {
			return nil, err
		}
		return k.GetLocaleInfo(p.LocaleID)
	}

	m["lexFormula"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[formulaParams](params)
		if err != nil {
			return nil, err
		}
		return k.LexFormula(p.Formula, p.Options)
	}

	m["lexFormulaPartial"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[formulaParams](params)
		if err != nil {
			return nil, err
		}
		return k.LexFormulaPartial(p.Formula, p.Cursor, p.Options)
	}

	m["parseFormulaPartial"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		p, err := decode[formulaParams](params)
		if err != nil {
			return nil, err
		}
		return k.ParseFormulaPartial(p.Formula, p.Cursor, p.Options)
	}

	m["getWorkbookInfo"] = func(ctx context.Context, k kernel.Kernel, params json.RawMessage) (any, error) {
		return k.GetWorkbookInfo()
	}

	return m
}

// clearingSentinel implements spec §4.2: "null style ids are forwarded as
// 'clear style' (kernel-dependent sentinel, commonly 0)."
func clearingSentinel(id *int) int {
	if id == nil {
		return 0
	}
	return *id
}

func normalizeGoalSeek(r proto.GoalSeekResult, targetValue float64) proto.GoalSeekResult {
	// A legacy kernel build may report only Solution/FinalError and leave
	// FinalOutput zero; reconstruct it as finalOutput = targetValue +
	// finalError, the only identity consistent with finalError being
	// defined as finalOutput - targetValue. Solution is the changing-cell
	// input, not the goal, so it cannot substitute for targetValue here.
	if r.Result.FinalOutput == 0 && r.Result.FinalError != 0 {
		r.Result.FinalOutput = targetValue + r.Result.FinalError
	}
	return r
}

// --- params shapes not promoted to proto because they're purely
// dispatcher-internal decode targets (no client ever constructs them by
// hand; the client's typed call surface builds the same JSON directly). ---

type bytesParams struct {
	Bytes []byte `json:"bytes"`
}

type encryptedXlsxParams struct {
	Bytes    []byte `json:"bytes"`
	Password string `json:"password"`
}

type cellEditParams struct {
	Sheet   string          `json:"sheet,omitempty"`
	Address string          `json:"address"`
	Value   proto.CellValue `json:"value"`
}

type setRangeParams struct {
	Sheet  string              `json:"sheet,omitempty"`
	Range  string              `json:"range"`
	Values [][]proto.CellValue `json:"values"`
}

type sheetOnlyParams struct {
	Sheet string `json:"sheet,omitempty"`
}

type rangeParams struct {
	Sheet string `json:"sheet,omitempty"`
	Range string `json:"range"`
}

type internStyleParams struct {
	Style map[string]any `json:"style"`
}

type colWidthParams struct {
	Sheet string  `json:"sheet"`
	Col   int     `json:"col"`
	Width float64 `json:"width"`
}

type colWidthCharsParams struct {
	Sheet      string  `json:"sheet"`
	Col        int     `json:"col"`
	WidthChars float64 `json:"widthChars"`
}

type colHiddenParams struct {
	Sheet  string `json:"sheet"`
	Col    int    `json:"col"`
	Hidden bool   `json:"hidden"`
}

type applyOperationParams struct {
	Op proto.Operation `json:"op"`
}

type engineInfoParams struct {
	Info json.RawMessage `json:"info"`
}

type sheetOriginParams struct {
	Sheet  string `json:"sheet"`
	Origin string `json:"origin"`
}

type localeParams struct {
	LocaleID string `json:"localeId"`
}

type formulaParams struct {
	Formula string             `json:"formula"`
	Cursor  int                `json:"cursor,omitempty"`
	Options proto.ParseOptions `json:"options,omitempty"`
}

// decodeEngineInfo decodes the setEngineInfo info payload. An explicit
// empty string for a numeric field is accepted and leaves that field nil,
// exactly as if it were absent, so the kernel keeps its current value and
// nothing is reset to a default. An explicit non-finite number is a validation error that
// must not mutate any prior state (the caller only applies the result if
// this returns without error).
func decodeEngineInfo(raw json.RawMessage) (proto.EngineInfo, error) {
	var loose struct {
		Memavail json.RawMessage `json:"memavail"`
		Totmem   json.RawMessage `json:"totmem"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &loose); err != nil {
			return proto.EngineInfo{}, fmt.Errorf("invalid engine info: %w", err)
		}
	}
	var info proto.EngineInfo
	if f, clear, err := decodeClearableFloat(loose.Memavail, "memavail"); err != nil {
		return proto.EngineInfo{}, err
	} else if !clear {
		info.Memavail = f
	}
	if f, clear, err := decodeClearableFloat(loose.Totmem, "totmem"); err != nil {
		return proto.EngineInfo{}, err
	} else if !clear {
		info.Totmem = f
	}
	return info, nil
}

// decodeClearableFloat decodes a field that may be absent (nil, false),
// "" (nil, true), or a finite number (&f, false). decodeEngineInfo leaves
// Memavail/Totmem nil in both of the first two cases.
func decodeClearableFloat(raw json.RawMessage, field string) (value *float64, clear bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("%s: invalid string value %q", field, s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false, fmt.Errorf("%s: must be a finite number or empty string", field)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false, fmt.Errorf("%s: must be finite", field)
	}
	return &f, false, nil
}
