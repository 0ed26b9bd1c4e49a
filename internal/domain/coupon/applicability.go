package coupon

import "github.com/shopspring/decimal"

// ApplicableAmount returns the portion of the cart's monetary value the
// coupon's product and category restrictions actually cover.
//
// An item is excluded when its product is on the exclusion list, when a
// product allow-list exists and the item is not on it, or when a category
// allow-list exists and the item's category is absent or not on it.
// Empty allow-lists mean unrestricted.
//
// A zero result means the coupon touches nothing in the cart; the evaluator
// treats that as a rejection regardless of every other rule.
func ApplicableAmount(c *Coupon, items []CartItem) decimal.Decimal {
	excluded := toSet(c.ExcludedProducts)
	products := toSet(c.ApplicableProducts)
	categories := toSet(c.ApplicableCategories)

	sum := decimal.Zero
	for _, item := range items {
		if _, ok := excluded[item.ProductID]; ok {
			continue
		}
		if len(products) > 0 {
			if _, ok := products[item.ProductID]; !ok {
				continue
			}
		}
		if len(categories) > 0 {
			if item.Category == "" {
				continue
			}
			if _, ok := categories[item.Category]; !ok {
				continue
			}
		}
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}

// Subtotal returns the total value of the cart, unitPrice * quantity summed
// over all items.
func Subtotal(items []CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func toSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
