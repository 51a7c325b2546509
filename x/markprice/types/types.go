// Package types defines the mark-price oracle's entities (component F),
// grounded on the teacher's x/perpetual/types.PriceInfo shape, trimmed
// to the fields the precedence chain actually needs - this engine has
// no multi-exchange index feed, so IndexPrice/EMA/source-weighting drop
// out in favor of the LMSR-curve/CLOB precedence spec 4.4 names.
package types

import "time"

// Source identifies which precedence tier produced a mark price.
type Source int

const (
	SourceUnspecified Source = iota
	SourceLMSRCurve
	SourceCLOBMid
	SourceCLOBLastFill
	SourceInitial
)

func (s Source) String() string {
	switch s {
	case SourceLMSRCurve:
		return "LMSR_CURVE"
	case SourceCLOBMid:
		return "CLOB_MID"
	case SourceCLOBLastFill:
		return "CLOB_LAST_FILL"
	case SourceInitial:
		return "INITIAL"
	default:
		return "UNSPECIFIED"
	}
}

// PriceInfo is the current mark price of one market.
type PriceInfo struct {
	MarketID  string
	Price     float64
	Source    Source
	UpdatedAt time.Time
}

// MarkUpdatedEvent is published synchronously on every mark-price change
// (spec 4.4: "mark.updated").
type MarkUpdatedEvent struct {
	MarketID string
	Price    float64
	Source   Source
}
