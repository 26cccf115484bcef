package research

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxQueryLength bounds the query in characters.
const DefaultMaxQueryLength = 2000

// Request starts one research run.
type Request struct {
	ID     string `json:"id" validate:"required,uuid"`
	Query  string `json:"query" validate:"required"`
	ChatID string `json:"chatId" validate:"required,uuid"`

	// OwnerID is the authenticated user; it never comes from the body.
	OwnerID string `json:"-"`
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid research request"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range sortedKeys(e.Fields) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return "invalid research request: " + strings.Join(parts, "; ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks identifiers and bounds the query to maxQueryLength characters.
// A non-positive maxQueryLength uses DefaultMaxQueryLength.
func (r *Request) Validate(maxQueryLength int) error {
	if maxQueryLength <= 0 {
		maxQueryLength = DefaultMaxQueryLength
	}

	fields := map[string]string{}
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			fields[jsonFieldName(fe.Field())] = describeTag(fe.Tag())
		}
	}

	if _, bad := fields["query"]; !bad {
		switch n := utf8.RuneCountInString(r.Query); {
		case strings.TrimSpace(r.Query) == "":
			fields["query"] = "is required"
		case n > maxQueryLength:
			fields["query"] = fmt.Sprintf("must be at most %d characters", maxQueryLength)
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func jsonFieldName(field string) string {
	switch field {
	case "ID":
		return "id"
	case "Query":
		return "query"
	case "ChatID":
		return "chatId"
	default:
		return strings.ToLower(field)
	}
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	default:
		return "failed " + tag
	}
}
