package ws

import (
	"github.com/openalpha/simulacrum/internal/eventbus"
	liquidationtypes "github.com/openalpha/simulacrum/x/liquidation/types"
	markpricetypes "github.com/openalpha/simulacrum/x/markprice/types"
	orderbooktypes "github.com/openalpha/simulacrum/x/orderbook/types"
	perpetualtypes "github.com/openalpha/simulacrum/x/perpetual/types"
)

func (h *Hub) onTrade(ev eventbus.Event) {
	trade, ok := ev.Payload.(*orderbooktypes.Trade)
	if !ok {
		return
	}
	h.publish("trades:"+trade.MarketID, "trade", trade)
}

func (h *Hub) onMarkUpdated(ev eventbus.Event) {
	mark, ok := ev.Payload.(markpricetypes.MarkUpdatedEvent)
	if !ok {
		return
	}
	h.publish("ticker:"+mark.MarketID, "ticker", mark)
}

func (h *Hub) onFundingSettled(ev eventbus.Event) {
	rec, ok := ev.Payload.(perpetualtypes.FundingRecord)
	if !ok {
		return
	}
	h.publish("funding:"+rec.MarketID, "funding", rec)
}

func (h *Hub) onLiquidation(ev eventbus.Event) {
	liq, ok := ev.Payload.(liquidationtypes.Event)
	if !ok {
		return
	}
	h.publish("liquidations:"+liq.MarketID, "liquidation", liq)
	h.publish("positions:"+liq.PositionTrader, "liquidation", liq)
}
