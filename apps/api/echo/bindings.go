package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
)

var orderingParam = "ordering"

// bindOrdering reads the `ordering` query param, e.g. "subject,-numeric_score".
func bindOrdering(ctx echo.Context) []core.DBOrdering {
	return core.ParseOrdering(ctx.QueryParam(orderingParam))
}

func bindRecordFilter(ctx echo.Context) (record.Filter, error) {
	var filter record.Filter
	if err := ctx.Bind(&filter); err != nil {
		return record.Filter{}, err
	}
	filter.Ordering = bindOrdering(ctx)
	return filter, nil
}
