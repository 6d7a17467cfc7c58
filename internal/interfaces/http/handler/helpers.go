package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/reconciliation/internal/interfaces/http/dto"
)

// toDecimalPtr converts a float64 to a *decimal.Decimal
func toDecimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

// bindDeliveryID binds and parses the :id path parameter, answering the
// request itself when it is invalid
func (h *BaseHandler) bindDeliveryID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.ID), true
}

// bindStoreID binds and parses the :store_id path parameter
func (h *BaseHandler) bindStoreID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.StoreIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.StoreID), true
}
