package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	reportsvc "github.com/trezcool/autoregister/services/report"
)

const importFileField = "file"

type recordApi struct {
	svc *record.Service
}

func registerRecordAPI(g *echo.Group, jwt echo.MiddlewareFunc, api recordApi) {
	rg := g.Group("/records", jwt)
	rg.GET("", api.query)
	rg.POST("", api.createOrUpdate)
	rg.GET("/alerts", api.alerts)
	rg.GET("/export", api.export)
	rg.POST("/import", api.importEntries)

	// detail endpoints
	rg.GET("/:id", api.retrieve)
	rg.POST("/:id/publish", api.publish)
	rg.POST("/:id/dismiss-alert", api.dismissAlert)
	rg.POST("/:id/appeals", api.createAppeal)
	rg.POST("/:id/appeals/:appealID/resolve", api.resolveAppeal)
	rg.POST("/:id/appeals/:appealID/correction", api.applyCorrection)
}

// Handlers

func (api *recordApi) query(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	filter, err := bindRecordFilter(ctx)
	if err != nil {
		return ctx.JSON(http.StatusOK, []record.Record{})
	}

	records, err := api.svc.List(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying records")
	}
	if records == nil {
		records = []record.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *recordApi) retrieve(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	rec, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *recordApi) alerts(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	records, err := api.svc.Alerts(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "querying alerts")
	}
	if records == nil {
		records = []record.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *recordApi) createOrUpdate(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	var data record.Entry
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Entry")
	}

	res, err := api.svc.CreateOrUpdate(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *recordApi) publish(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Publish(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *recordApi) dismissAlert(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.DismissAlert(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *recordApi) createAppeal(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	var data AppealRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AppealRequest")
	}

	res, err := api.svc.CreateAppeal(ctx.Request().Context(), actor, ctx.Param("id"), data.Comment)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *recordApi) resolveAppeal(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	var data ResolveAppealRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResolveAppealRequest")
	}

	res, err := api.svc.ResolveAppeal(ctx.Request().Context(), actor, ctx.Param("id"), ctx.Param("appealID"), data.State, data.Response)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *recordApi) applyCorrection(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	var data CorrectionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CorrectionRequest")
	}

	res, err := api.svc.ApplyAppealCorrection(ctx.Request().Context(), actor, ctx.Param("id"), ctx.Param("appealID"), data.Components)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

// export sends the records matching the query params as a spreadsheet.
func (api *recordApi) export(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	filter, err := bindRecordFilter(ctx)
	if err != nil {
		return errHttpNotFound
	}
	records, err := api.svc.List(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying records")
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, reportsvc.ContentType)
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "records.xlsx"))
	resp.WriteHeader(http.StatusOK)
	return reportsvc.WriteRecords(resp, records)
}

// importEntries enters every row of an uploaded spreadsheet. Rows are entered one by one:
// a refused row does not stop the others.
func (api *recordApi) importEntries(ctx echo.Context) error {
	actor, err := actorID(ctx)
	if err != nil {
		return err
	}
	fh, err := ctx.FormFile(importFileField)
	if err != nil {
		return core.NewValidationError(core.ErrInvalidInput, core.FieldError{Field: importFileField, Error: "this field is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	entries, err := reportsvc.ReadEntries(f)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: importFileField, Error: err.Error()})
	}

	results := make([]record.Result, 0, len(entries))
	for _, entry := range entries {
		res, err := api.svc.CreateOrUpdate(ctx.Request().Context(), actor, entry)
		if record.KindOf(err) == record.KindInternal {
			return err
		}
		results = append(results, res)
	}
	return ctx.JSON(http.StatusOK, results)
}

type (
	AppealRequest struct {
		Comment string `json:"comment"`
	}

	ResolveAppealRequest struct {
		State    string `json:"state"`
		Response string `json:"response"`
	}

	CorrectionRequest struct {
		Components map[string]float64 `json:"components"`
	}
)
