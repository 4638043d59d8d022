package contract

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var schemaVersionRe = regexp.MustCompile(`^\d+\.\d+$`)

// Violation is one schema violation with the wire-format path of the
// offending field.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in a contract, never just
// the first. Callers surface the full list so a contract can be fixed in
// one pass.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Path, v.Message)
	}
	return "contract validation failed: " + strings.Join(msgs, "; ")
}

// Details renders the violations for an error envelope.
func (e *ValidationError) Details() []map[string]string {
	out := make([]map[string]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = map[string]string{"path": v.Path, "message": v.Message}
	}
	return out
}

// RegisterCustomValidators registers contract-specific validation rules.
// Must be called before validating a Contract.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("schema_version", validateSchemaVersion); err != nil {
		return fmt.Errorf("failed to register schema_version validator: %w", err)
	}
	if err := v.RegisterValidation("iso_date", validateISODate); err != nil {
		return fmt.Errorf("failed to register iso_date validator: %w", err)
	}
	if err := v.RegisterValidation("action_glob", validateActionGlob); err != nil {
		return fmt.Errorf("failed to register action_glob validator: %w", err)
	}
	return nil
}

func validateSchemaVersion(fl validator.FieldLevel) bool {
	return schemaVersionRe.MatchString(fl.Field().String())
}

// validateISODate accepts a bare date or a full RFC3339 timestamp.
func validateISODate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// validateActionGlob rejects glob patterns that path.Match cannot compile.
func validateActionGlob(fl validator.FieldLevel) bool {
	_, err := path.Match(fl.Field().String(), "probe")
	return !errors.Is(err, path.ErrBadPattern)
}

// Validate checks the contract against the closed schema and collects every
// violation. Returns a *ValidationError when any rule fails.
func (c *Contract) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Report wire-format paths, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	var violations []Violation
	if err := v.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return err
		}
		for _, fe := range fieldErrors {
			violations = append(violations, Violation{
				Path:    trimNamespace(fe.Namespace()),
				Message: formatFieldError(fe),
			})
		}
	}

	violations = append(violations, c.crossFieldViolations()...)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// crossFieldViolations covers rules struct tags cannot express.
func (c *Contract) crossFieldViolations() []Violation {
	var out []Violation

	if len(c.Allowlist.Domains) == 0 && len(c.Allowlist.IPRanges) == 0 {
		out = append(out, Violation{
			Path:    "allowlist",
			Message: "at least one of domains or ip_ranges must be non-empty",
		})
	}

	if c.HasTimeWindow() {
		start, errS := parseISODate(c.Identity.StartDate)
		end, errE := parseISODate(c.Identity.EndDate)
		if errS == nil && errE == nil && !end.After(start) {
			out = append(out, Violation{
				Path:    "identity.end_date",
				Message: "must be after start_date",
			})
		}
	}

	if c.ApprovalPolicy.Mode == ModeInteractive && c.ApprovalPolicy.TimeoutSec == 0 {
		out = append(out, Violation{
			Path:    "approval_policy.timeout_sec",
			Message: "is required when mode is INTERACTIVE",
		})
	}

	seen := make(map[string]struct{}, len(c.Credentials))
	for i, cred := range c.Credentials {
		if _, dup := seen[cred.ID]; dup {
			out = append(out, Violation{
				Path:    fmt.Sprintf("credentials[%d].id", i),
				Message: fmt.Sprintf("duplicate credential id %q", cred.ID),
			})
		}
		seen[cred.ID] = struct{}{}
	}

	return out
}

func parseISODate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// trimNamespace drops the root struct segment from a validator namespace,
// leaving the wire path ("Contract.allowlist.ports[0]" -> "allowlist.ports[0]").
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// formatFieldError creates a user-friendly message for a single violation.
func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "cidr":
		return "must be a valid CIDR range"
	case "schema_version":
		return "must match <major>.<minor>"
	case "iso_date":
		return "must be a date (YYYY-MM-DD) or RFC3339 timestamp"
	case "action_glob":
		return "must be a valid glob pattern"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}
