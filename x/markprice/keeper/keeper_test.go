package keeper

import (
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/openalpha/simulacrum/internal/clock"
	"github.com/openalpha/simulacrum/internal/eventbus"
	"github.com/openalpha/simulacrum/x/markprice/types"
	"github.com/stretchr/testify/require"
)

func newTestKeeper() *Keeper {
	return New(eventbus.New(log.NewNopLogger()), clock.NewFake(time.Now()), log.NewNopLogger())
}

func f(v float64) *float64 { return &v }

func TestPrecedencePrefersLMSROverEverything(t *testing.T) {
	k := newTestKeeper()
	info := k.Refresh("mkt_1", Inputs{LMSRCurve: f(0.62), CLOBMid: f(0.70), CLOBLastFill: f(0.80), Initial: 0.5})
	require.Equal(t, types.SourceLMSRCurve, info.Source)
	require.Equal(t, 0.62, info.Price)
}

func TestPrecedenceFallsBackToCLOBMid(t *testing.T) {
	k := newTestKeeper()
	info := k.Refresh("mkt_1", Inputs{CLOBMid: f(0.70), CLOBLastFill: f(0.80), Initial: 0.5})
	require.Equal(t, types.SourceCLOBMid, info.Source)
	require.Equal(t, 0.70, info.Price)
}

func TestPrecedenceFallsBackToInitialWhenNoOtherSource(t *testing.T) {
	k := newTestKeeper()
	info := k.Refresh("mkt_1", Inputs{Initial: 0.5})
	require.Equal(t, types.SourceInitial, info.Source)
	require.Equal(t, 0.5, info.Price)
}

func TestGetUnknownMarket(t *testing.T) {
	k := newTestKeeper()
	_, err := k.Get("nope")
	require.Error(t, err)
}
