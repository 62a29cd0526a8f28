package checkout

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// Request описывает оформление корзины.
type Request struct {
	BuyerID         string                 `json:"buyer_id" validate:"required"`
	Items           []domain.CartLineItem  `json:"items" validate:"dive"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=cash_on_delivery card"`
	Notes           string                 `json:"notes" validate:"max=1000"`
	Currency        string                 `json:"currency" validate:"omitempty,len=3"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRequest(req Request) error {
	if len(req.Items) == 0 {
		return domain.ErrEmptyCart
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s %s", fe.Namespace(), msgForTag(fe)))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// cartLine хранит позицию корзины после слияния дублей. Index указывает на первое вхождение товара.
type cartLine struct {
	Index    int
	Item     domain.CartLineItem
	Product  domain.Product
	reserved bool
}

// mergeLines объединяет повторяющиеся товары, сохраняя порядок первого появления.
func mergeLines(items []domain.CartLineItem) ([]*cartLine, error) {
	lines := make([]*cartLine, 0, len(items))
	byProduct := make(map[string]*cartLine, len(items))
	for i, item := range items {
		if existing, ok := byProduct[item.ProductID]; ok {
			sum := int64(existing.Item.Quantity) + int64(item.Quantity)
			if sum > math.MaxInt32 {
				return nil, &domain.LineItemError{Index: i, ProductID: item.ProductID, Err: domain.ErrInvalidQuantity}
			}
			existing.Item.Quantity = int32(sum)
			continue
		}
		line := &cartLine{Index: i, Item: item}
		byProduct[item.ProductID] = line
		lines = append(lines, line)
	}
	return lines, nil
}
