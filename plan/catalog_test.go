package plan_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline/plan"
	"github.com/xraph/creditline/types"
)

func TestDefaultCatalog(t *testing.T) {
	req := require.New(t)
	c := plan.DefaultCatalog()

	plans := c.List()
	req.Len(plans, 3)
	req.Equal([]string{"basic", "pro", "premium"}, []string{plans[0].ID, plans[1].ID, plans[2].ID})

	pro, err := c.Find("pro")
	req.NoError(err)
	req.Equal(int64(500), pro.Credits)
	req.True(pro.Price.Equal(types.USD(2000)))
}

func TestCatalogFindUnknown(t *testing.T) {
	_, err := plan.DefaultCatalog().Find("enterprise")
	require.True(t, errors.Is(err, plan.ErrUnknownPlan))
}

func TestNewCatalogRejects(t *testing.T) {
	req := require.New(t)

	_, err := plan.NewCatalog(plan.Basic, plan.Basic)
	req.Error(err)

	_, err = plan.NewCatalog(plan.Plan{ID: "free", Credits: 10})
	req.Error(err)
}

func TestCatalogListIsCopy(t *testing.T) {
	c := plan.DefaultCatalog()
	plans := c.List()
	plans[0].Credits = 1

	basic, err := c.Find("basic")
	require.NoError(t, err)
	require.Equal(t, int64(100), basic.Credits)
}
