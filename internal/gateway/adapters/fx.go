// Package adapters wires the concrete processor adapters into the gateway.
package adapters

import (
	"github.com/smallbiznis/clinicbill/internal/gateway"
	"github.com/smallbiznis/clinicbill/internal/gateway/adapters/midtrans"
	"github.com/smallbiznis/clinicbill/internal/gateway/adapters/stripe"
	"go.uber.org/fx"
)

func NewRegistry() *gateway.Registry {
	return gateway.NewRegistry(stripe.NewFactory(), midtrans.NewFactory())
}

var Module = fx.Module("gateway",
	fx.Provide(NewRegistry),
	fx.Provide(gateway.NewDispatcher),
	fx.Provide(func(d *gateway.Dispatcher) gateway.Gateway { return d }),
)
