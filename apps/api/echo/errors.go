package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// kindStatuses maps the refusals of the record lifecycle to HTTP statuses.
var kindStatuses = map[record.ErrorKind]int{
	record.KindPermissionDenied:      http.StatusForbidden,
	record.KindNotOwner:              http.StatusForbidden,
	record.KindUserNotFound:          http.StatusNotFound,
	record.KindRoleUndefined:         http.StatusForbidden,
	record.KindRecordNotFound:        http.StatusNotFound,
	record.KindAppealNotFound:        http.StatusNotFound,
	record.KindAppealAlreadyResolved: http.StatusConflict,
	record.KindAppealNotAccepted:     http.StatusConflict,
	record.KindNotPublished:          http.StatusConflict,
	record.KindEditWindowClosed:      http.StatusConflict,
	record.KindCalculationError:      http.StatusUnprocessableEntity,
	record.KindInvalidState:          http.StatusBadRequest,
	record.KindInvalidInput:          http.StatusBadRequest,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var (
			httpErr  *echo.HTTPError
			vErr     *core.ValidationError
			vErrs    validator.ValidationErrors
			internal bool
		)
		switch {
		case errors.As(err, &httpErr):
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = httpErr.Message
				break
			}
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		case errors.As(err, &vErrs):
			fldErrs := make(map[string]string, len(vErrs))
			for _, fErr := range vErrs {
				fldErrs[fErr.Field()] = fErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case errors.As(err, &vErr):
			if len(vErr.Fields) > 0 {
				fldErrs := make(map[string]string, len(vErr.Fields))
				for _, fErr := range vErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = vErr.Error()
			}
			code = http.StatusBadRequest
		case errors.Is(err, user.ErrInvalidCredentials):
			code = errAuthenticationFailed.Code
			message = errAuthenticationFailed.Message
		default:
			kind := record.KindOf(err)
			if status, ok := kindStatuses[kind]; ok {
				code = status
				message = record.Result{Message: errors.Cause(err).Error(), Kind: kind}
				break
			}

			// any other error is a server error
			internal = true
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Name = claims.Name
				usr.Role = claims.Role
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if internal && ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				logger.Error("sending error response", err)
			}
		}
	}
}
