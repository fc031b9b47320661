package plans

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Tier is a purchasable subscription plan.
type Tier struct {
	ID                   uint                        `gorm:"primaryKey" json:"id"`
	Code                 string                      `gorm:"size:32;not null;uniqueIndex" json:"code"`
	Name                 string                      `gorm:"size:128;not null" json:"name"`
	MonthlyPrice         decimal.Decimal             `gorm:"type:numeric(12,2);not null" json:"monthly_price"`
	YearlyPrice          decimal.Decimal             `gorm:"type:numeric(12,2);not null" json:"yearly_price"`
	Currency             string                      `gorm:"size:3;not null" json:"currency"`
	Features             datatypes.JSONSlice[string] `json:"features"`
	IsActive             bool                        `gorm:"not null;default:true" json:"is_active"`
	SortOrder            int                         `gorm:"not null;default:0" json:"sort_order"`
	StripeMonthlyPriceID *string                     `gorm:"size:64;uniqueIndex" json:"-"`
	StripeYearlyPriceID  *string                     `gorm:"size:64;uniqueIndex" json:"-"`
}
