// Package validation はgo-playground/validatorによる入力検証を、
// フィールド単位のmodel.ValidationErrorに変換して提供する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/shopspring/decimal"
)

// Validator はgo-playground/validatorのラッパー。
// エラーのフィールド名にはJSONタグの名前を使う。
type Validator struct {
	validate *validator.Validate
	messages map[string]string
}

// New はValidatorを生成する。
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimal.Decimalは文字列表現で検証する
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	return &Validator{validate: v, messages: make(map[string]string)}
}

// MustRegister は独自の検証タグとそのエラーメッセージを登録する。
// 登録できない場合はpanicする。起動時にのみ呼ぶこと。
func (v *Validator) MustRegister(tag string, fn validator.Func, message string) {
	if err := v.validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("failed to register validation tag %q: %v", tag, err))
	}
	v.messages[tag] = message
}

// Validate は構造体を検証する。すべての違反をまとめた*model.ValidationErrorを返す。
func (v *Validator) Validate(i any) error {
	verr := model.NewValidationError()
	v.Collect(verr, i)
	return verr.OrNil()
}

// Collect は構造体の検証結果をverrに追加する。
// タグで表せない検証と結果をまとめる場合に使う。
func (v *Validator) Collect(verr *model.ValidationError, i any) {
	err := v.validate.Struct(i)
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("_", "入力内容を検証できませんでした。")
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), v.message(fe))
	}
}

func (v *Validator) message(fe validator.FieldError) string {
	if msg, ok := v.messages[fe.Tag()]; ok {
		return msg
	}

	isList := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array

	switch fe.Tag() {
	case "required":
		if isList {
			return "1件以上選択してください。"
		}
		return "必須項目です。"
	case "email":
		return "メールアドレスの形式が正しくありません。"
	case "min":
		if isList {
			return fmt.Sprintf("%s件以上選択してください。", fe.Param())
		}
		return fmt.Sprintf("%s文字以上で入力してください。", fe.Param())
	case "max":
		if isList {
			return fmt.Sprintf("%s件以内で選択してください。", fe.Param())
		}
		return fmt.Sprintf("%s文字以内で入力してください。", fe.Param())
	case "oneof":
		return fmt.Sprintf("%sのいずれかを指定してください。", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "iso4217":
		return "ISO 4217の通貨コード（例: USD）を指定してください。"
	case "http_url", "url":
		return "http(s)で始まる絶対URLを指定してください。"
	default:
		return "入力内容が正しくありません。"
	}
}
