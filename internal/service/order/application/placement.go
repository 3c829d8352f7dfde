package application

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"kiosk/internal/service/order/domain"
)

// 单个商品的数量上限，防止价格溢出
const maxItemAmount = 999

var itemsSchema = mustSchema(`{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "array",
		"minItems": 2,
		"maxItems": 2,
		"items": [
			{"type": "integer", "minimum": 1, "maximum": 999},
			{"type": "string", "minLength": 1}
		]
	}
}`)

var payWithSchema = mustSchema(`{"type": "integer", "enum": [100, 150, 200, 300, 1000]}`)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return schema
}

func validateJSON(schema *gojsonschema.Schema, raw json.RawMessage, sentinel error) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.Wrap(sentinel, "missing")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.Wrap(sentinel, err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.Wrap(sentinel, strings.Join(msgs, "; "))
	}
	return nil
}

// ValidatePlacement 校验下单请求：结构、支付方式、重复商品、目录解析，并计算总价。
func (s *OrderApplicationService) ValidatePlacement(ctx context.Context, rawItems, rawPayWith json.RawMessage) (*VerifiedOrder, error) {
	if err := validateJSON(payWithSchema, rawPayWith, domain.ErrInvalidPayMethod); err != nil {
		return nil, err
	}
	var payWith domain.PaymentMethod
	if err := json.Unmarshal(rawPayWith, &payWith); err != nil || !payWith.Valid() {
		return nil, domain.ErrInvalidPayMethod
	}

	if err := validateJSON(itemsSchema, rawItems, domain.ErrInvalidItems); err != nil {
		return nil, err
	}
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(rawItems, &pairs); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidItems, err.Error())
	}

	seen := make(map[string]bool, len(pairs))
	items := make([]domain.OrderItem, 0, len(pairs))
	for _, pair := range pairs {
		var (
			amount int
			id     string
		)
		if err := json.Unmarshal(pair[0], &amount); err != nil || amount < 1 || amount > maxItemAmount {
			return nil, errors.Wrapf(domain.ErrInvalidItems, "amount %s", pair[0])
		}
		if err := json.Unmarshal(pair[1], &id); err != nil {
			return nil, errors.Wrap(domain.ErrInvalidItems, err.Error())
		}
		if seen[id] {
			return nil, errors.Wrapf(domain.ErrDuplicateItem, "item %s", id)
		}
		seen[id] = true

		menuItem, err := s.catalog.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if menuItem == nil {
			return nil, errors.Wrapf(domain.ErrUnknownItem, "item %s", id)
		}
		items = append(items, domain.OrderItem{MenuItem: *menuItem, Amount: amount})
	}

	return &VerifiedOrder{
		Items:   items,
		PayWith: payWith,
		Price:   domain.TotalPrice(items),
	}, nil
}
