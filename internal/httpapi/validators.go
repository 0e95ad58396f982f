package httpapi

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators installs custom binding validators on gin's validator
// engine. Call once at startup before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding validator engine is not validator.Validate")
	}
	return v.RegisterValidation("bank_code", validBankCode)
}

// Bank codes are short numeric identifiers (e.g. NIP codes like "058").
func validBankCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	if len(code) < 3 || len(code) > 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
