package handler // package handler contains the echo HTTP handlers

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// Kinds reported in error bodies besides the circulation taxonomy.
const (
	kindValidation   = "validation"
	kindDuplicate    = "duplicate"
	kindUnauthorized = "unauthorized"
)

var errInvalidBody = errors.New("invalid body")

// validate is shared by every handler.  Field errors carry JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the request body into req and runs its validate tags.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errInvalidBody
	}
	return validate.Struct(req)
}

// errorJSON writes the uniform error body.
func errorJSON(c echo.Context, status int, kind, msg string) error {
	return c.JSON(status, echo.Map{
		"error":     msg,
		"kind":      kind,
		"retryable": kind == circulation.KindConflict,
	})
}

// invalid answers 400 for a body that failed to decode or validate.  Field
// errors are listed by their JSON name.
func invalid(c echo.Context, err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return errorJSON(c, http.StatusBadRequest, kindValidation, "invalid body")
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":     "validation failed",
		"kind":      kindValidation,
		"retryable": false,
		"fields":    fields,
	})
}

// responder maps domain errors to HTTP responses and logs the unexpected ones.
type responder struct {
	log *zap.Logger
}

func newResponder(log *zap.Logger) responder {
	if log == nil {
		log = zap.NewNop()
	}
	return responder{log: log}
}

// fail writes the response for err:
//
//	not_found            404
//	member_ineligible    403
//	other rejections     409 (conflict is marked retryable)
//	invalid genre parent 400
//	anything else        500
func (r responder) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		return errorJSON(c, http.StatusConflict, kindDuplicate, "email already exists")
	case errors.Is(err, repository.ErrDuplicate):
		return errorJSON(c, http.StatusConflict, kindDuplicate, "already exists")
	case errors.Is(err, model.ErrGenreCycle):
		return errorJSON(c, http.StatusBadRequest, kindValidation, err.Error())
	}

	kind := circulation.KindOf(err)
	switch kind {
	case circulation.KindNotFound:
		return errorJSON(c, http.StatusNotFound, kind, err.Error())
	case circulation.KindMemberIneligible:
		return errorJSON(c, http.StatusForbidden, kind, err.Error())
	case circulation.KindInternal:
		r.log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, kind, "internal error")
	default:
		return errorJSON(c, http.StatusConflict, kind, err.Error())
	}
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func badID(c echo.Context) error {
	return errorJSON(c, http.StatusBadRequest, kindValidation, "invalid id")
}

// paging reads page/page_size query params; page_size is capped at 100.
func paging(c echo.Context) (limit, offset int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return size, (page - 1) * size
}
