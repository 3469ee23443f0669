// Package validator wraps go-playground/validator for manifest fields,
// config payloads, and the plugin admin HTTP request bodies.
package validator

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var pluginIDPattern = regexp.MustCompile(`^plugin-(source|processing|detection|search|display)-[a-z0-9-]+$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("plugin_id", validatePluginID)
	validate.RegisterValidation("semver", validateSemver)
}

// ValidateStruct validates a struct, returning the raw validator error.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates a struct and returns formatted per-field errors,
// or nil if validation passed.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errs := make(map[string]string)
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			field := strings.ToLower(e.Field())
			errs[field] = formatValidationError(e)
		}
	}
	return errs
}

// BindAndValidate binds JSON and validates in one step. Returns true if
// successful; otherwise it has already written the error response.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error_kind": "BAD_REQUEST",
			"message":    "invalid request format",
			"details":    err.Error(),
		})
		return false
	}

	if errs := ValidateRequest(req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error_kind": "VALIDATION_FAILED",
			"message":    "validation failed",
			"fields":     errs,
		})
		return false
	}

	return true
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "plugin_id":
		return "must match plugin-{kind}-{slug}"
	case "semver":
		return "must be a valid semantic version"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

// Custom validators

func validatePluginID(fl validator.FieldLevel) bool {
	return pluginIDPattern.MatchString(fl.Field().String())
}

// semverPattern is intentionally permissive; pkg/semverx performs the
// authoritative parse and rejects anything this pattern lets through.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z-.]+)?(\+[0-9A-Za-z-.]+)?$`)

func validateSemver(fl validator.FieldLevel) bool {
	return semverPattern.MatchString(fl.Field().String())
}
