package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/catalog-sync/internal/domain/models"
)

func brandRecords(ids ...int64) []models.SourceRecord {
	records := make([]models.SourceRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, &models.SourceBrand{ID: id, Name: "brand"})
	}
	return records
}

func storedCorrelations(integrationID int64, kind models.EntityKind, sourceIDs ...string) []*models.CorrelationRecord {
	records := make([]*models.CorrelationRecord, 0, len(sourceIDs))
	for i, sourceID := range sourceIDs {
		records = append(records, &models.CorrelationRecord{
			ID:            int64(i + 1),
			IntegrationID: integrationID,
			Kind:          kind,
			SourceID:      sourceID,
			TargetID:      "t-" + sourceID,
			State:         models.CorrelationCreated,
		})
	}
	return records
}

func TestComputeActionGroups(t *testing.T) {
	t.Run("empty stored means first run, everything is an insert", func(t *testing.T) {
		group := ComputeActionGroups(brandRecords(30, 10, 20), nil)

		require.Len(t, group.ToInsert, 3)
		assert.Empty(t, group.ToUpdate)
		assert.Empty(t, group.ToDelete)

		assert.Equal(t, "10", group.ToInsert[0].RecordID())
		assert.Equal(t, "20", group.ToInsert[1].RecordID())
		assert.Equal(t, "30", group.ToInsert[2].RecordID())
	})

	t.Run("empty fresh deletes everything stored", func(t *testing.T) {
		stored := storedCorrelations(1, models.KindBrand, "5", "3", "9")
		group := ComputeActionGroups(nil, stored)

		assert.Empty(t, group.ToInsert)
		assert.Empty(t, group.ToUpdate)
		require.Len(t, group.ToDelete, 3)
		assert.Equal(t, "3", group.ToDelete[0].SourceID)
		assert.Equal(t, "5", group.ToDelete[1].SourceID)
		assert.Equal(t, "9", group.ToDelete[2].SourceID)
	})

	t.Run("mixed input partitions into disjoint groups", func(t *testing.T) {
		fresh := brandRecords(1, 2, 4)
		stored := storedCorrelations(1, models.KindBrand, "2", "3")

		group := ComputeActionGroups(fresh, stored)

		require.Len(t, group.ToInsert, 2)
		assert.Equal(t, "1", group.ToInsert[0].RecordID())
		assert.Equal(t, "4", group.ToInsert[1].RecordID())

		require.Len(t, group.ToUpdate, 1)
		assert.Equal(t, "2", group.ToUpdate[0].Entity.RecordID())
		assert.Equal(t, "t-2", group.ToUpdate[0].Correlation.TargetID)

		require.Len(t, group.ToDelete, 1)
		assert.Equal(t, "3", group.ToDelete[0].SourceID)
	})

	t.Run("deterministic for permuted input", func(t *testing.T) {
		stored := storedCorrelations(1, models.KindBrand, "7", "2")

		first := ComputeActionGroups(brandRecords(9, 2, 5), stored)
		second := ComputeActionGroups(brandRecords(5, 9, 2), stored)

		require.Equal(t, len(first.ToInsert), len(second.ToInsert))
		for i := range first.ToInsert {
			assert.Equal(t, first.ToInsert[i].RecordID(), second.ToInsert[i].RecordID())
		}
		require.Equal(t, len(first.ToDelete), len(second.ToDelete))
		for i := range first.ToDelete {
			assert.Equal(t, first.ToDelete[i].SourceID, second.ToDelete[i].SourceID)
		}
	})
}

func TestReconciler_Brands(t *testing.T) {
	ctx := context.Background()

	t.Run("first run inserts all brands and records correlations", func(t *testing.T) {
		store := newMemStorage()
		require.NoError(t, store.SaveIntegration(ctx, activeIntegration(1)))

		source := newFakeSource()
		source.brands = []*models.SourceBrand{
			{ID: 11, Name: "Acme", Slug: "acme"},
			{ID: 12, Name: "Globex", Slug: "globex"},
		}
		target := newFakeTarget()

		correlations := newTestCorrelationService(store)
		converter := NewConverter(correlations, source, 4)
		reconciler := NewReconciler(store, correlations, converter, source, target, noopLogger{})

		summary, err := reconciler.Reconcile(ctx, 1, models.KindBrand)
		require.NoError(t, err)

		assert.Equal(t, 2, summary.Inserted)
		assert.Equal(t, 0, summary.Updated)
		assert.Equal(t, 0, summary.Deleted)
		assert.Equal(t, 0, summary.Failed)
		assert.Equal(t, 2, target.count("create_brand"))

		stored, err := store.ListActiveCorrelations(ctx, 1, models.KindBrand)
		require.NoError(t, err)
		assert.Len(t, stored, 2)
	})

	t.Run("second run with same brands only updates", func(t *testing.T) {
		store := newMemStorage()
		require.NoError(t, store.SaveIntegration(ctx, activeIntegration(1)))

		source := newFakeSource()
		source.brands = []*models.SourceBrand{{ID: 11, Name: "Acme", Slug: "acme"}}
		target := newFakeTarget()

		correlations := newTestCorrelationService(store)
		converter := NewConverter(correlations, source, 4)
		reconciler := NewReconciler(store, correlations, converter, source, target, noopLogger{})

		_, err := reconciler.Reconcile(ctx, 1, models.KindBrand)
		require.NoError(t, err)

		summary, err := reconciler.Reconcile(ctx, 1, models.KindBrand)
		require.NoError(t, err)

		assert.Equal(t, 0, summary.Inserted)
		assert.Equal(t, 1, summary.Updated)
		assert.Equal(t, 1, target.count("create_brand"))
		assert.Equal(t, 1, target.count("update_brand"))
	})

	t.Run("vanished brand is deleted and correlation soft-deleted", func(t *testing.T) {
		store := newMemStorage()
		require.NoError(t, store.SaveIntegration(ctx, activeIntegration(1)))

		source := newFakeSource()
		source.brands = []*models.SourceBrand{
			{ID: 11, Name: "Acme"},
			{ID: 12, Name: "Globex"},
		}
		target := newFakeTarget()

		correlations := newTestCorrelationService(store)
		converter := NewConverter(correlations, source, 4)
		reconciler := NewReconciler(store, correlations, converter, source, target, noopLogger{})

		_, err := reconciler.Reconcile(ctx, 1, models.KindBrand)
		require.NoError(t, err)

		source.brands = []*models.SourceBrand{{ID: 11, Name: "Acme"}}

		summary, err := reconciler.Reconcile(ctx, 1, models.KindBrand)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Deleted)
		assert.Equal(t, 1, target.count("delete_brand"))

		stored, err := store.ListActiveCorrelations(ctx, 1, models.KindBrand)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "11", stored[0].SourceID)
	})

	t.Run("inactive integration is rejected", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.Active = false
		require.NoError(t, store.SaveIntegration(ctx, integration))

		source := newFakeSource()
		target := newFakeTarget()
		correlations := newTestCorrelationService(store)
		converter := NewConverter(correlations, source, 4)
		reconciler := NewReconciler(store, correlations, converter, source, target, noopLogger{})

		_, err := reconciler.Reconcile(ctx, 1, models.KindBrand)
		require.Error(t, err)
	})
}

func TestReconciler_Categories(t *testing.T) {
	ctx := context.Background()

	t.Run("category with unsynced parent fails and converges next run", func(t *testing.T) {
		store := newMemStorage()
		require.NoError(t, store.SaveIntegration(ctx, activeIntegration(1)))

		source := newFakeSource()
		// Категория 3 привязана к родителю 99, которого еще нет в каталоге
		source.categories = []*models.SourceCategory{
			{ID: 1, Name: "Furniture"},
			{ID: 2, Name: "Chairs", ParentID: 1},
			{ID: 3, Name: "Tables", ParentID: 99},
		}
		target := newFakeTarget()

		correlations := newTestCorrelationService(store)
		converter := NewConverter(correlations, source, 4)
		reconciler := NewReconciler(store, correlations, converter, source, target, noopLogger{})

		summary, err := reconciler.Reconcile(ctx, 1, models.KindCategory)
		require.NoError(t, err)

		assert.Equal(t, 2, summary.Inserted)
		assert.Equal(t, 1, summary.Failed)
		assert.Equal(t, 2, target.count("create_category"))

		stored, err := store.ListActiveCorrelations(ctx, 1, models.KindCategory)
		require.NoError(t, err)
		assert.Len(t, stored, 2)

		// Родитель появился: он вставляется позже категории 3 в том же прогоне,
		// поэтому категория 3 добирается только следующим прогоном
		source.categories = append(source.categories, &models.SourceCategory{ID: 99, Name: "Office"})

		summary, err = reconciler.Reconcile(ctx, 1, models.KindCategory)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Inserted)
		assert.Equal(t, 1, summary.Failed)

		summary, err = reconciler.Reconcile(ctx, 1, models.KindCategory)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Inserted)
		assert.Equal(t, 0, summary.Failed)

		stored, err = store.ListActiveCorrelations(ctx, 1, models.KindCategory)
		require.NoError(t, err)
		assert.Len(t, stored, 4)
	})
}

func TestReconciler_Products(t *testing.T) {
	ctx := context.Background()

	t.Run("product gone from source is removed from target", func(t *testing.T) {
		store := newMemStorage()
		require.NoError(t, store.SaveIntegration(ctx, activeIntegration(1)))

		source := newFakeSource()
		source.products["100"] = &models.SourceProduct{ID: 100, Name: "Still here", Available: 1}

		target := newFakeTarget()
		aliveID, err := target.CreateProduct(ctx, nil, &models.TargetProduct{Name: "Still here"})
		require.NoError(t, err)
		goneID, err := target.CreateProduct(ctx, nil, &models.TargetProduct{Name: "Gone"})
		require.NoError(t, err)

		correlations := newTestCorrelationService(store)
		require.NoError(t, correlations.Upsert(ctx, &models.CorrelationRecord{
			IntegrationID: 1, Kind: models.KindProduct, SourceID: "100", TargetID: aliveID, State: models.CorrelationCreated,
		}))
		require.NoError(t, correlations.Upsert(ctx, &models.CorrelationRecord{
			IntegrationID: 1, Kind: models.KindProduct, SourceID: "200", TargetID: goneID, State: models.CorrelationCreated,
		}))

		converter := NewConverter(correlations, source, 4)
		reconciler := NewReconciler(store, correlations, converter, source, target, noopLogger{})

		summary, err := reconciler.Reconcile(ctx, 1, models.KindProduct)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Deleted)
		assert.Equal(t, 0, summary.Failed)

		stored, err := store.ListActiveCorrelations(ctx, 1, models.KindProduct)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "100", stored[0].SourceID)
	})
}
