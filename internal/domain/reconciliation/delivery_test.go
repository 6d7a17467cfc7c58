package reconciliation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelivery_NeedsReconciliation(t *testing.T) {
	base := func() *Delivery {
		return &Delivery{ID: uuid.New(), Status: DeliveryStatusDelivered, BLNumber: "BL-1"}
	}
	assert.True(t, base().NeedsReconciliation())

	d := base()
	d.Status = DeliveryStatusInTransit
	assert.False(t, d.NeedsReconciliation())

	d = base()
	d.BLNumber = "  "
	assert.False(t, d.NeedsReconciliation())

	d = base()
	d.InvoiceReference = "INV-1"
	assert.False(t, d.NeedsReconciliation())

	d = base()
	d.Reconciled = true
	assert.False(t, d.NeedsReconciliation())
}

func TestDelivery_ApplyMatch(t *testing.T) {
	amount := decimal.RequireFromString("120.00")
	d := &Delivery{ID: uuid.New(), Status: DeliveryStatusDelivered, BLNumber: "BL-1"}

	require.NoError(t, d.ApplyMatch("INV-9", &amount, time.Now()))
	assert.True(t, d.Reconciled)
	assert.Equal(t, "INV-9", d.InvoiceReference)
	assert.True(t, d.InvoiceAmount.Equal(amount))
	require.NotNil(t, d.ReconciledAt)

	assert.ErrorIs(t, d.ApplyMatch("INV-10", nil, time.Now()), ErrAlreadyReconciled)
	assert.ErrorIs(t, (&Delivery{}).ApplyMatch(" ", nil, time.Now()), ErrInvalidRequest)
}

func TestDelivery_ReferenceAmount(t *testing.T) {
	bl := decimal.RequireFromString("10")
	inv := decimal.RequireFromString("12")

	assert.Nil(t, (&Delivery{}).ReferenceAmount())
	assert.True(t, (&Delivery{BLAmount: &bl}).ReferenceAmount().Equal(bl))
	assert.True(t, (&Delivery{BLAmount: &bl, InvoiceAmount: &inv}).ReferenceAmount().Equal(inv))
}
