package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/stablepay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator returns the shared struct validator
func Validator() *validator.Validate {
	return validate
}

// ParseAuthorizeRequest parses and validates an authorize request body
func ParseAuthorizeRequest(data []byte) (*types.AuthorizeRequest, error) {
	var req types.AuthorizeRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "failed to parse authorize request")
	}

	if err := validate.Struct(&req); err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "missing required parameters: %s", fieldList(err))
	}

	return &req, nil
}

// ParseInitiateRequest parses and validates a session creation body
func ParseInitiateRequest(data []byte) (*types.InitiateRequest, error) {
	var req types.InitiateRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "failed to parse initiate request")
	}

	if err := validate.Struct(&req); err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "missing required parameters: %s", fieldList(err))
	}

	return &req, nil
}

// ParseWebhookEvent parses and validates a webhook event body
func ParseWebhookEvent(data []byte) (*types.WebhookEvent, error) {
	var event types.WebhookEvent

	if err := json.Unmarshal(data, &event); err != nil {
		return nil, types.WrapError(types.ErrWebhookError, err, "failed to parse webhook event")
	}

	if err := validate.Struct(&event); err != nil {
		return nil, types.WrapError(types.ErrWebhookError, err, "invalid webhook event: %s", fieldList(err))
	}

	return &event, nil
}

func fieldList(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	out := ""
	for i, fe := range verrs {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag())
	}
	return out
}
