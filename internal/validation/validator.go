// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// signalNamePattern accepts Sig_<hex frame id>_<start>_<length>, and the
// Sig_<hex>_<start>|<length> spelling produced by triple-store exporters.
var signalNamePattern = regexp.MustCompile(`^Sig_0[xX][0-9a-fA-F]+_[0-9]+[_|][0-9]+$`)

// FieldError is a single failed constraint.
type FieldError struct {
	Path    string      `json:"path"`
	Tag     string      `json:"tag"`
	Param   string      `json:"param,omitempty"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
}

func (e FieldError) Error() string {
	return e.Message
}

// Error collects every failed constraint of one Struct call.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the shared validator, registering the cansentry
// specific tags on first use:
//   - signalname: a knowledge-base signal name token
//   - canid: an identifier that fits the signal id frame domain (<= 0xFFFF)
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "yaml", "koanf"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})

		_ = validate.RegisterValidation("signalname", func(fl validator.FieldLevel) bool {
			return signalNamePattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("canid", func(fl validator.FieldLevel) bool {
			return fl.Field().Uint() <= 0xFFFF
		})
	})
	return validate
}

// Struct validates s. It returns nil or an *Error listing every failure,
// with paths such as frames[2].signals[0].name.
func Struct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Fields: []FieldError{{Path: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(verrs))}
	for i, fe := range verrs {
		path := fe.Namespace()
		if dot := strings.IndexByte(path, '.'); dot >= 0 {
			path = path[dot+1:]
		}
		out.Fields[i] = FieldError{
			Path:    path,
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: translate(path, fe),
		}
	}
	return out
}

var messageTemplates = map[string]string{
	"required":      "%s is required",
	"signalname":    "%s must look like Sig_0x<frame>_<start>_<length>",
	"canid":         "%s must be at most 0xFFFF",
	"file":          "%s must name an existing file",
	"hostname_port": "%s must be host:port",
}

var paramTemplates = map[string]string{
	"oneof":       "%s must be one of: %s",
	"gte":         "%s must be greater than or equal to %s",
	"lte":         "%s must be less than or equal to %s",
	"gt":          "%s must be greater than %s",
	"lt":          "%s must be less than %s",
	"min":         "%s must be at least %s",
	"max":         "%s must be at most %s",
	"gtefield":    "%s must be greater than or equal to %s",
	"required_if": "%s is required when %s",
}

func translate(path string, fe validator.FieldError) string {
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, path)
	}
	if tmpl, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, path, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
}
