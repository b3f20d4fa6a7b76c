package validate

import (
	"fmt"
	"reflect"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// PlaygroundV10 Validator implementation using go-playground
type PlaygroundV10 struct {
	core  *validator.Validate
	trans ut.Translator
}

var _ Validator = &PlaygroundV10{}

// NewValidator create a new Validator translating messages into locale,
// en or zh. Unknown locales fall back to en.
func NewValidator(locale string) *PlaygroundV10 {
	uni := ut.New(en.New(), en.New(), zh.New())
	validate := validator.New()

	var trans ut.Translator
	switch locale {
	case "zh":
		trans, _ = uni.GetTranslator("zh")
		zh_translations.RegisterDefaultTranslations(validate, trans)
	default:
		trans, _ = uni.GetTranslator("en")
		en_translations.RegisterDefaultTranslations(validate, trans)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "-" || name == "" {
			name = fld.Tag.Get("yaml")
			if name == "-" || name == "" {
				return ""
			}
		}
		return name
	})
	return &PlaygroundV10{
		core:  validate,
		trans: trans,
	}
}

func (v PlaygroundV10) translate(err error, domain string) []*FieldError {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []*FieldError{NewFieldError(domain, err.Error())}
	}
	result := make([]*FieldError, 0, len(errs))
	for _, item := range errs {
		name := item.Field()
		if name == "" {
			name = domain
		}
		result = append(result, NewFieldError(name, item.Translate(v.trans)))
	}
	return result
}

// Struct validate struct
func (v PlaygroundV10) Struct(s interface{}) []*FieldError {
	if err := v.core.Struct(s); err != nil {
		return v.translate(err, "")
	}
	return nil
}

// Empty check if value is empty
func (v PlaygroundV10) Empty(varName string, s interface{}) []*FieldError {
	if err := v.core.Var(s, "required"); err != nil {
		return []*FieldError{NewFieldError(varName, fmt.Sprintf("%s is required", varName))}
	}
	return nil
}

// Var validate a single value against tag
func (v PlaygroundV10) Var(varName string, s interface{}, tag string) []*FieldError {
	if err := v.core.Var(s, tag); err != nil {
		return v.translate(err, varName)
	}
	return nil
}
