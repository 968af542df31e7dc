package app

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/eikenprep/internal/apperr"
)

// HomeLoginForm signs in a home account.
type HomeLoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SchoolLoginForm signs in a school-managed student.
type SchoolLoginForm struct {
	PIN         string `json:"pin" validate:"required"`
	StudentName string `json:"studentName" validate:"required,max=64"`
}

// RegisterForm creates a home account. The barcode number and student name
// must match a record provisioned by the school.
type RegisterForm struct {
	StudentName        string `json:"studentName" validate:"required,max=64"`
	StudentFurigana    string `json:"studentFurigana" validate:"max=64"`
	BarcodeNumber      string `json:"barcodeNumber" validate:"required,max=32"`
	ParentNameKanji    string `json:"parentNameKanji" validate:"max=64"`
	ParentNameFurigana string `json:"parentNameFurigana" validate:"max=64"`
	Email              string `json:"email" validate:"required,email"`
	ConfirmEmail       string `json:"confirmEmail" validate:"required,eqfield=Email"`
	Password           string `json:"password" validate:"required,min=6"`
}

// ResetForm replaces a home account password.
type ResetForm struct {
	Email           string `json:"email" validate:"required,email"`
	BarcodeNumber   string `json:"barcodeNumber" validate:"required,max=32"`
	StudentName     string `json:"studentName" validate:"required,max=64"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// PurchaseForm is a shop action confirmed with the parent's credentials.
type PurchaseForm struct {
	Action      string `json:"action" validate:"required,oneof=purchase_credits subscribe unsubscribe"`
	ParentEmail string `json:"parentEmail" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// check validates a form and maps the first failure to a message id.
func check(op string, form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation(op, apperr.MsgInvalidInput, err)
	}
	fe := verrs[0]
	return apperr.Validation(op, fieldMessage(fe.Field(), fe.Tag()), err)
}

func fieldMessage(field, tag string) apperr.MsgID {
	switch {
	case tag == "eqfield" && field == "ConfirmEmail":
		return apperr.MsgEmailMismatch
	case tag == "eqfield" && field == "ConfirmPassword":
		return apperr.MsgPasswordMismatch
	case tag == "min" && field == "Password":
		return apperr.MsgPasswordTooShort
	case tag == "email":
		return apperr.MsgInvalidEmail
	case tag == "required":
		return apperr.MsgMissingField
	case tag == "oneof" && field == "Action":
		return apperr.MsgUnknownPurchase
	}
	return apperr.MsgInvalidInput
}
