package credit

import (
	"github.com/smallbiznis/clinicbill/internal/credit/repository"
	"github.com/smallbiznis/clinicbill/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
