package main

import (
	"github.com/ulala-x/playhouse-go/internal/api"
	"github.com/ulala-x/playhouse-go/internal/bootstrap"
)

// MsgEcho is the only message the default handler table understands:
// it replies with whatever payload it was sent.
const MsgEcho = "Echo"

// defaultHandlers is the stock handler table every playhouse-api
// process can serve without linking a business package. A real
// deployment registers its own handlers and never reaches this one.
func defaultHandlers() bootstrap.ApiHandlers {
	return bootstrap.ApiHandlers{
		MsgEcho: func(ctx *api.Context) {
			_ = ctx.Reply(0, ctx.Payload)
		},
	}
}
