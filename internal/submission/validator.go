package submission

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/hopehub/internal/validation"
	"github.com/shopspring/decimal"
)

// MaxDonationAmount は1回の申込で受け付ける寄付金額の上限。
var MaxDonationAmount = decimal.NewFromInt(1_000_000)

// NewValidator はフォーム入力用のValidatorを生成する。
// 寄付金額の検証タグ "amount" を追加で登録する。
func NewValidator() *validation.Validator {
	v := validation.New()
	v.MustRegister("amount", validateAmount,
		fmt.Sprintf("金額は0より大きく%s以下、小数点以下2桁までで指定してください。", MaxDonationAmount.String()))
	return v
}

// validateAmount は金額が0より大きく上限以下で、小数点以下2桁までかを検証する。
func validateAmount(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.LessThanOrEqual(MaxDonationAmount) && d.Equal(d.Round(2))
}
