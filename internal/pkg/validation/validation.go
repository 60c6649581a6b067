// Package validation checks the structure of submitted registry documents.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/pkg/geometry"

	"github.com/go-playground/validator/v10"
)

var (
	// ogcr_version is a strict X.Y.Z semantic version.
	ogcrVersionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	// methodology versions may omit the patch component.
	methodologyVersionRe = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("ogcr_version", func(fl validator.FieldLevel) bool {
		return ogcrVersionRe.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("methodology_version", func(fl validator.FieldLevel) bool {
		return methodologyVersionRe.MatchString(fl.Field().String())
	})
}

// DecodePDD parses a raw PDD document and validates its structure.
func DecodePDD(raw []byte) (*domain.PDDDocument, error) {
	var doc domain.PDDDocument
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}
	if err := ValidatePDD(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeMRV parses a raw MRV document and validates its structure.
func DecodeMRV(raw []byte) (*domain.MRVDocument, error) {
	var doc domain.MRVDocument
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}
	if err := ValidateMRV(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func decode(raw []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		field := "$"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return domain.NewSchemaError([]domain.FieldError{{Field: field, Message: err.Error()}})
	}
	return nil
}

// ValidatePDD runs the structural rules of a Project Design Document.
func ValidatePDD(doc *domain.PDDDocument) error {
	fields := structErrors(validate.Struct(doc))
	if doc.Geometry.Type != "" && doc.Geometry.Type != "Polygon" && doc.Geometry.Type != "MultiPolygon" {
		fields = append(fields, domain.FieldError{Field: "geometry.type", Message: "project geometry must be Polygon or MultiPolygon"})
	}
	if len(fields) > 0 {
		return domain.NewSchemaError(fields)
	}
	return nil
}

// ValidateMRV runs the structural rules of a Monitoring Report, including the
// reporting period order end_date > start_date.
func ValidateMRV(doc *domain.MRVDocument) error {
	fields := structErrors(validate.Struct(doc))
	if len(fields) == 0 {
		start, end, err := Period(doc.Properties.StartDate, doc.Properties.EndDate)
		if err != nil {
			fields = append(fields, domain.FieldError{Field: "properties.start_date", Message: err.Error()})
		} else if !end.After(start) {
			fields = append(fields, domain.FieldError{Field: "properties.end_date", Message: "end_date must be after start_date"})
		}
	}
	if len(fields) > 0 {
		return domain.NewSchemaError(fields)
	}
	return nil
}

// Period parses MRV period bounds as UTC dates.
func Period(start, end string) (time.Time, time.Time, error) {
	s, err := time.ParseInLocation(domain.DateLayout, start, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := time.ParseInLocation(domain.DateLayout, end, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

// ProjectGeometry parses and checks a PDD boundary. Failures are GeometryErrors.
func ProjectGeometry(g domain.Geometry) (geometry.MultiPolygon, error) {
	mp, err := geometry.Parse(g.Type, g.Coordinates)
	if err != nil {
		return nil, domain.Wrap(domain.GeometryError, "invalid project geometry", err)
	}
	if err := mp.Validate(); err != nil {
		return nil, domain.Wrap(domain.GeometryError, "invalid project geometry", err)
	}
	return mp, nil
}

func structErrors(err error) []domain.FieldError {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []domain.FieldError{{Field: "$", Message: err.Error()}}
	}
	out := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, domain.FieldError{Field: fieldPath(fe.Namespace()), Message: describe(fe)})
	}
	return out
}

// fieldPath drops the root struct name: "PDDDocument.properties.name" -> "properties.name".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "eq":
		return "must equal " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "min":
		return "must be at least " + fe.Param() + " long"
	case "len":
		return "must have exactly " + fe.Param() + " items"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "gtefield":
		return "must be >= " + fe.Param()
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "http_url":
		return "must be an http(s) URL"
	case "ogcr_version":
		return "must be a semantic version X.Y.Z"
	case "methodology_version":
		return "must be a version X.Y or X.Y.Z"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
