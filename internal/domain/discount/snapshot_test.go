package discount

import (
	"context"
	"testing"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	bogof := promotion.Promotion{
		ID:          "bogof",
		Name:        "Buy one widget, get one free",
		Target:      promotion.TargetItem,
		Type:        promotion.TypeBuyXGetY,
		BuyQuantity: 1,
		GetQuantity: 1,
		Groups: []promotion.ConditionGroup{{
			Name: promotion.GroupItem,
			Conditions: []promotion.Condition{{
				Property: promotion.PropItemCategory,
				Operator: promotion.OpEquals,
				Value:    "widgets",
			}},
		}},
	}
	repo := &mockPromotionRepo{promos: []promotion.Promotion{
		codePromo(t, "coded", "SAVE10", "10"),
		amountOffPromo(t, "auto", "5"),
		amountOffPromo(t, "gone", "1"),
		bogof,
	}}
	s := newTestSet(repo, 0)

	c := testCart(t)
	c.Items[0].Quantity = 4

	s.SetCodeRequest("SAVE10")
	s.ComputeTotal(context.Background(), c)
	require.NoError(t, s.RemoveDiscount("gone"))

	snap := s.Snapshot()
	require.Len(t, snap.Applied, 3)
	assert.Equal(t, []string{"gone"}, snap.Removed)
	assert.Equal(t, map[string]string{"save10": "coded"}, snap.Codes)

	data, err := snap.MarshalJSON()
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, decoded.Decode(jx.DecodeBytes(data)))

	// A re-encode of the decoded snapshot must be byte-identical: the codec
	// writes fields and map keys in a stable order.
	redata, err := decoded.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(redata))

	restored := newTestSet(repo, 0)
	restored.Restore(decoded)

	assert.True(t, restored.CodeApplied("save10"))
	require.NotNil(t, restored.Entry("bogof"))

	origItems := s.Entry("bogof").Items
	restItems := restored.Entry("bogof").Items
	require.Len(t, restItems, len(origItems))
	for fp, d := range origItems {
		rd, ok := restItems[fp]
		require.True(t, ok, "missing item %s", fp)
		assert.Equal(t, d.Quantity, rd.Quantity)
		assert.True(t, d.Amount.Equal(rd.Amount), "item %s: want %s, got %s", fp, d.Amount, rd.Amount)
	}

	// The restored session behaves like the original: the removed promotion
	// stays blocked and totals come out identical.
	a := s.ComputeTotal(context.Background(), c)
	b := restored.ComputeTotal(context.Background(), c)
	assert.True(t, a.Equal(b), "totals differ: %s vs %s", a, b)
	assert.Nil(t, restored.Entry("gone"))
}

func TestSnapshot_IsolatedFromLaterPasses(t *testing.T) {
	repo := &mockPromotionRepo{promos: []promotion.Promotion{
		amountOffPromo(t, "auto", "5"),
	}}
	s := newTestSet(repo, 0)
	c := testCart(t)

	s.ComputeTotal(context.Background(), c)
	snap := s.Snapshot()

	// Mutating the live set must not leak into the captured snapshot.
	require.NoError(t, s.RemoveDiscount("auto"))
	s.ComputeTotal(context.Background(), c)

	require.Len(t, snap.Applied, 1)
	assert.Empty(t, snap.Removed)
}
