package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	goaway "github.com/TwiN/go-away"
	"github.com/go-playground/validator/v10"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
)

// Validator is a request that can validate itself beyond its struct tags.
type Validator interface {
	Validate() error
}

type validation struct {
	validate *validator.Validate
}

// Validation checks the decoded request against its `validate` struct tags and its Validate
// method, if it has one. Any violation fails the call without reaching the handler.
//
// On top of the stock tags, `clean` rejects strings containing profanity.
func Validation() Middleware {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Messages name fields the way clients send them.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("clean", func(fl validator.FieldLevel) bool {
		return !goaway.IsProfane(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("error registering clean validation: %s", err))
	}

	return validation{validate: v}
}

func (v validation) Handle(ctx context.Context, call *Call, next Next) (Result, error) {
	if call.Request == nil {
		return next(ctx, call)
	}

	if msgs := v.messages(ctx, call.Request); len(msgs) > 0 {
		return Fail(msgs...), nil
	}

	return next(ctx, call)
}

func (v validation) messages(ctx context.Context, req any) []string {
	var msgs []string

	err := v.validate.StructCtx(ctx, req)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			msgs = append(msgs, fieldMessage(fe))
		}
	}

	if self, ok := req.(Validator); ok {
		if err := self.Validate(); err != nil {
			if lerr, ok := lecerrs.As(err); ok {
				msgs = append(msgs, lerr.Messages()...)
			} else {
				msgs = append(msgs, err.Error())
			}
		}
	}

	return msgs
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters.", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s.", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters.", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s.", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s.", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s.", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address.", field)
	case "url", "http_url":
		return fmt.Sprintf("%s must be a valid URL.", field)
	case "alphanum":
		return fmt.Sprintf("%s must only contain letters and numbers.", field)
	case "clean":
		return fmt.Sprintf("%s must not contain profanity.", field)
	default:
		return fmt.Sprintf("%s is invalid.", field)
	}
}
