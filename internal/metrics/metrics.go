// Package metrics 进程内计数器与 debug 服务
package metrics

import "expvar"

var (
	OrdersSubmitted  = expvar.NewInt("orders_submitted")
	OrdersFilled     = expvar.NewInt("orders_filled")
	OrdersCancelled  = expvar.NewInt("orders_cancelled")
	OrdersRejected   = expvar.NewInt("orders_rejected")
	PositionsOpened  = expvar.NewInt("positions_opened")
	PositionsClosed  = expvar.NewInt("positions_closed")
	SignalsRejected  = expvar.NewInt("signals_rejected")
	StreamReconnects = expvar.NewInt("stream_reconnects")
	StreamMessages   = expvar.NewInt("stream_messages")
	BreakerTrips     = expvar.NewInt("breaker_trips")
	SnapshotSaves    = expvar.NewInt("snapshot_saves")
)
