package service

import (
	"errors"
	"fmt"

	"github.com/kayicom/marketplace/internal/repository"
)

// ErrValidation является корневой ошибкой некорректного ввода. Изменений при ней не выполняется.
var ErrValidation = errors.New("validation failed")

var (
	// ErrInvalidProduct возвращается для товара, отсутствующего в каталоге.
	ErrInvalidProduct = fmt.Errorf("%w: invalid product", ErrValidation)
	// ErrMissingRequiredField возвращается, если у позиции нет обязательного поля.
	ErrMissingRequiredField = fmt.Errorf("%w: missing required field", ErrValidation)
	// ErrInvalidCoupon возвращается, если купон не прошёл проверку.
	ErrInvalidCoupon = fmt.Errorf("%w: invalid coupon", ErrValidation)
	// ErrInvalidAmount возвращается для недопустимой суммы.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	// ErrInvalidStatus возвращается для неизвестного статуса.
	ErrInvalidStatus = fmt.Errorf("%w: invalid status", ErrValidation)
	// ErrInvalidConversion возвращается при конвертации кредитов не кратно 100.
	ErrInvalidConversion = fmt.Errorf("%w: invalid credits conversion", ErrValidation)
)

var (
	// ErrInsufficientFunds возвращается, если списание увело бы баланс в минус.
	ErrInsufficientFunds = repository.ErrInsufficientFunds
	// ErrAlreadyRefunded возвращается при повторном возврате.
	ErrAlreadyRefunded = repository.ErrAlreadyRefunded
)

// IsNotFound сообщает, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrOrderNotFound) ||
		errors.Is(err, repository.ErrUserNotFound) ||
		errors.Is(err, repository.ErrCouponNotFound) ||
		errors.Is(err, repository.ErrProductNotFound)
}

func invalid(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
