// Package echovalidator wires github.com/go-playground/validator/v10 in as
// an Echo e.Validator, used by internal/relay/api for the relay-API face's
// /input and /sync request bodies (spec §4.11).
//
// Adapted from the standalone echovalidator package: the singleton half is
// dropped (this module has exactly one echo.Echo instance, the relay-API
// face's, so there's nothing for a process-global singleton to coordinate
// between) and the JSON-tag-name rewiring is kept, since relay-API error
// bodies should name fields the way the wire JSON does (buffer_id, not
// BufferID).
package echovalidator

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// CustomValidator adapts go-playground/validator/v10 to echo.Validator.
type CustomValidator struct {
	validator *validator.Validate
}

// New builds a CustomValidator whose error messages use JSON field names.
func New() *CustomValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CustomValidator{validator: v}
}

// Validate implements echo.Validator.
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Validator exposes the underlying validator.Validate for registering
// custom tags (e.g. a "weechat_color" tag for the Colors field).
func (cv *CustomValidator) Validator() *validator.Validate {
	return cv.validator
}
