package bunny

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Palette 是可选的兔子颜色
var Palette = []string{"cream", "gray", "brown", "white", "black", "pink"}

// IsValidColor 判断颜色是否在调色板中
func IsValidColor(color string) bool {
	return slices.Contains(Palette, color)
}

func randomColor() string {
	return Palette[rand.IntN(len(Palette))]
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators 向Gin的校验器注册 bunnycolor 规则。
// 注册只执行一次，之后的调用返回同一个结果。
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("gin 的校验器不是 validator.Validate，无法注册 bunnycolor")
			return
		}
		err := v.RegisterValidation("bunnycolor", func(fl validator.FieldLevel) bool {
			return IsValidColor(fl.Field().String())
		})
		if err != nil {
			registerErr = fmt.Errorf("无法注册 bunnycolor 校验规则: %w", err)
		}
	})
	return registerErr
}
