package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/librarydrive/donation-desk/models"
)

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

// DonationInput is the client-writable part of a donation.
type DonationInput struct {
	Name       string   `json:"name" validate:"required"`
	Email      string   `json:"email" validate:"required,email"`
	Phone      string   `json:"phone" validate:"required"`
	Message    string   `json:"message"`
	Mode       string   `json:"mode" validate:"required,oneof=bundles custom"`
	Bundles    *int     `json:"bundles" validate:"omitempty,min=1"`
	Total      *float64 `json:"total" validate:"required,gte=0"`
	Visibility string   `json:"visibility" validate:"required,oneof=public anonymous initials"`
	Status     string   `json:"status" validate:"omitempty,oneof=new read"`
}

// ParseDonationInput decodes and validates a donation body, collecting every
// failing field. A createdAt sent by the client is type-checked and dropped.
func ParseDonationInput(body []byte) (DonationInput, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return DonationInput{}, newValidationError("body", "invalid_json", "body must be a JSON object")
	}

	var in DonationInput
	ve := &ValidationError{}
	typeFailed := map[string]bool{}

	field := func(name string, dst any, expected string) {
		v, ok := raw[name]
		if !ok || string(v) == "null" {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			ve.add(name, "invalid_type", "expected "+expected)
			typeFailed[name] = true
		}
	}
	field("name", &in.Name, "string")
	field("email", &in.Email, "string")
	field("phone", &in.Phone, "string")
	field("message", &in.Message, "string")
	field("mode", &in.Mode, "string")
	field("bundles", &in.Bundles, "integer")
	field("total", &in.Total, "number")
	field("visibility", &in.Visibility, "string")
	field("status", &in.Status, "string")
	var createdAt string
	field("createdAt", &createdAt, "string")

	in.normalize()
	if err := in.collectIssues(typeFailed, ve); err != nil {
		return DonationInput{}, err
	}
	return in, ve.orNil()
}

// Validate checks an already-typed input against the donation rules.
func (in DonationInput) Validate() error {
	in.normalize()
	ve := &ValidationError{}
	if err := in.collectIssues(nil, ve); err != nil {
		return err
	}
	return ve.orNil()
}

func (in *DonationInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
}

// collectIssues appends every rule failure to ve, skipping fields that
// already failed to decode.
func (in DonationInput) collectIssues(skip map[string]bool, ve *ValidationError) error {
	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate donation: %w", err)
		}
		for _, fe := range fieldErrs {
			if skip[fe.Field()] {
				continue
			}
			ve.add(fe.Field(), fe.Tag(), ruleMessage(fe))
		}
	}

	if skip["bundles"] || skip["mode"] {
		return nil
	}
	switch {
	case in.Mode == models.ModeBundles && in.Bundles == nil:
		ve.add("bundles", "required", "bundles is required when mode is bundles")
	case in.Mode == models.ModeCustom && in.Bundles != nil:
		ve.add("bundles", "not_allowed", "bundles is only allowed when mode is bundles")
	}
	return nil
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "invalid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Donation builds the record to persist. Status defaults to new.
func (in DonationInput) Donation() *models.Donation {
	d := &models.Donation{
		Name:       in.Name,
		Email:      in.Email,
		Phone:      in.Phone,
		Message:    in.Message,
		Mode:       in.Mode,
		Visibility: in.Visibility,
		Status:     in.Status,
	}
	if in.Mode == models.ModeBundles && in.Bundles != nil {
		b := *in.Bundles
		d.Bundles = &b
	}
	if in.Total != nil {
		d.Total = *in.Total
	}
	if d.Status == "" {
		d.Status = models.StatusNew
	}
	return d
}

func validStatus(status string) bool {
	return status == models.StatusNew || status == models.StatusRead
}

func validVisibility(v string) bool {
	switch v {
	case models.VisibilityPublic, models.VisibilityAnonymous, models.VisibilityInitials:
		return true
	}
	return false
}
