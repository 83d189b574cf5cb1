package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmgasset/td-wifi-api/internal/catalog"
	"github.com/pmgasset/td-wifi-api/internal/zoho"
)

// pagedLister serves canned inventory pages.
type pagedLister struct {
	pages [][]zoho.InventoryItem
	err   error
	calls int
}

func (l *pagedLister) ListItems(_ context.Context, page int) ([]zoho.InventoryItem, bool, error) {
	l.calls++
	if l.err != nil {
		return nil, false, l.err
	}
	items := l.pages[page-1]
	return items, page < len(l.pages), nil
}

func visibleItem(id string) zoho.InventoryItem {
	return zoho.InventoryItem{
		ItemID: id,
		SKU:    "SKU-" + id,
		Name:   "Item " + id,
		Rate:   10,
		Status: "active",
		CustomFields: []zoho.CustomField{
			{Label: "Display In Website", Value: true},
		},
	}
}

func hiddenItem(id string) zoho.InventoryItem {
	it := visibleItem(id)
	it.CustomFields = []zoho.CustomField{{Label: "Display In Website", Value: "no"}}
	return it
}

func TestCatalogSync_FiltersAndPopulatesCache(t *testing.T) {
	lister := &pagedLister{pages: [][]zoho.InventoryItem{
		{visibleItem("1"), hiddenItem("2")},
		{visibleItem("3"), zoho.InventoryItem{ItemID: "4", Name: "no flag"}},
	}}
	cache := catalog.NewCache()
	svc := NewCatalogService(lister, cache, []string{"displayinwebsite"}, nil, testLogger())

	result, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductCount)
	assert.Equal(t, 2, result.FilteredOut)
	assert.Equal(t, 2, lister.calls, "both pages walked")

	assert.Len(t, svc.Products(), 2)
	p, err := svc.Product("1")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", p.SKU)

	_, err = svc.Product("2")
	assert.Error(t, err, "filtered products are not in the cache")
}

func TestCatalogSync_FailureKeepsPreviousSnapshot(t *testing.T) {
	cache := catalog.NewCache()
	good := &pagedLister{pages: [][]zoho.InventoryItem{{visibleItem("1")}}}
	svc := NewCatalogService(good, cache, []string{"displayinwebsite"}, nil, testLogger())
	_, err := svc.Sync(context.Background())
	require.NoError(t, err)

	bad := NewCatalogService(&pagedLister{err: fmt.Errorf("vendor down")}, cache, []string{"displayinwebsite"}, nil, testLogger())
	_, err = bad.Sync(context.Background())

	require.Error(t, err)
	assert.Len(t, cache.All(), 1, "failed sync must not clobber the cache")
}

func TestCatalogStats(t *testing.T) {
	cache := catalog.NewCache()
	cache.Replace(nil, time.Now().UTC())
	svc := NewCatalogService(&pagedLister{}, cache, nil, nil, testLogger())

	stats := svc.Stats()
	assert.Zero(t, stats.ProductCount)
	assert.True(t, stats.ResyncSuggested)
}
