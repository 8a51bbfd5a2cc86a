package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"
)

// ValidationError collects per-field and form-level messages for a rejected submission.
type ValidationError struct {
	Fields map[string][]string
	Form   []string
}

func (e *ValidationError) Error() string {
	var msgs []string
	msgs = append(msgs, e.Form...)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, m := range e.Fields[k] {
			msgs = append(msgs, k+": "+m)
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add records a message against a field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// AddForm records a message that is not tied to one field.
func (e *ValidationError) AddForm(msg string) {
	e.Form = append(e.Form, msg)
}

// Field returns the messages for one field; templates call it with a zero value too.
func (e ValidationError) Field(name string) []string {
	return e.Fields[name]
}

// Empty reports whether nothing was recorded.
func (e ValidationError) Empty() bool {
	return len(e.Fields) == 0 && len(e.Form) == 0
}

// 表单结构，form 标签即 HTML 字段名
type loginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
	Next     string `form:"next"`
}

type registerForm struct {
	Username        string `form:"username" validate:"required,max=150,username"`
	Email           string `form:"email" validate:"required,email,max=254"`
	Password        string `form:"password" validate:"required,min=8,max=128"`
	PasswordConfirm string `form:"password_confirm" validate:"required"`
}

type contactForm struct {
	Name    string `form:"name" validate:"required,max=100"`
	Email   string `form:"email" validate:"required,email"`
	Message string `form:"message" validate:"required"`
}

// 不回显的字段
var secretFields = map[string]bool{"password": true, "password_confirm": true}

// newValidator returns a validator that reports errors under the form field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("form")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Django 的用户名规则：字母、数字和 @.+-_
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case strings.ContainsRune("@.+-_", r):
			default:
				return false
			}
		}
		return true
	})
	return v
}

var (
	formDecoder = form.NewDecoder()
	formEncoder = form.NewEncoder()
)

// bindForm decodes the POST form into dst using the form tags. Every value
// except secrets is trimmed first. The returned map holds the decoded fields
// that may be echoed back when the page is re-rendered.
func bindForm(r *http.Request, dst interface{}) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	values := make(url.Values, len(r.PostForm))
	for key, vs := range r.PostForm {
		out := make([]string, len(vs))
		for i, v := range vs {
			if !secretFields[key] {
				v = strings.TrimSpace(v)
			}
			out[i] = v
		}
		values[key] = out
	}
	if err := formDecoder.Decode(dst, values); err != nil {
		return nil, fmt.Errorf("failed to decode form: %w", err)
	}

	// 只回显表单结构体里声明过的字段
	decoded, err := formEncoder.Encode(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	echo := make(map[string]string, len(decoded))
	for key := range decoded {
		if !secretFields[key] {
			echo[key] = decoded.Get(key)
		}
	}
	return echo, nil
}

// validateForm runs the struct tags and converts failures into a ValidationError.
func (h *Handler) validateForm(dst interface{}) *ValidationError {
	err := h.validate.Struct(dst)
	if err == nil {
		return nil
	}
	verr := &ValidationError{}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.AddForm("The form could not be validated.")
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	default:
		return "Enter a valid value."
	}
}
