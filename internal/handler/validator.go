package handler

import (
	"msmeconnect/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// registerValidators 注册自定义校验规则
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("payout_method", func(fl validator.FieldLevel) bool {
		return model.PayoutMethod(fl.Field().String()).Valid()
	})
}
