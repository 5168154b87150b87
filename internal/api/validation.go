package api

import (
	"sync"

	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the shop's binding tags to gin's validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			logging.Errorf("gin validator engine is not go-playground/validator, custom tags unavailable")
			return
		}

		mustRegister := func(tag string, fn validator.Func) {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic("register validation tag " + tag + ": " + err.Error())
			}
		}

		mustRegister("tier", validateTier)
		mustRegister("ticketstatus", validateTicketStatus)
	})
}

func validateTier(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // 'required' handles empty values
	}
	_, ok := models.ParseTier(value)
	return ok
}

func validateTicketStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return models.TicketStatus(value).Valid()
}
