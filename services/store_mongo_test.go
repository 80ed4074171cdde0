package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/librarydrive/donation-desk/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestListQuery(t *testing.T) {
	query, opts := listQuery(ListFilter{Visibility: models.VisibilityPublic, Limit: 25})
	if query["visibility"] != models.VisibilityPublic {
		t.Fatalf("query = %v", query)
	}
	if opts.Limit == nil || *opts.Limit != 25 {
		t.Fatalf("limit = %v", opts.Limit)
	}
	sort, ok := opts.Sort.(bson.D)
	if !ok || len(sort) != 1 || sort[0].Key != "createdAt" || sort[0].Value != -1 {
		t.Fatalf("sort = %v", opts.Sort)
	}

	all, opts := listQuery(ListFilter{})
	if len(all) != 0 || opts.Limit != nil {
		t.Fatalf("unfiltered query = %v, limit = %v", all, opts.Limit)
	}
}

func TestDonationDocumentRoundTrip(t *testing.T) {
	bundles := 3
	created := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	oid := primitive.NewObjectID()
	d := &models.Donation{
		ID: oid.Hex(), Name: "Asha", Email: "a@example.com", Phone: "1",
		Mode: models.ModeBundles, Bundles: &bundles, Total: 3003,
		Visibility: models.VisibilityPublic, Status: models.StatusNew, CreatedAt: created,
	}

	doc := toDonationDocument(d)
	doc.ID = oid
	back := doc.model()
	if back.ID != d.ID || back.Name != "Asha" || *back.Bundles != 3 || !back.CreatedAt.Equal(created) {
		t.Fatalf("round trip = %+v", back)
	}
}

func newMockMongoStore(mt *mtest.T) *MongoStore {
	return NewMongoStore(mt.Client, mt.DB.Name())
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("insert assigns object id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		d := &models.Donation{Name: "Asha", Mode: models.ModeCustom, Total: 10, Visibility: models.VisibilityPublic}
		id, err := newMockMongoStore(mt).InsertDonation(ctx, d)
		if err != nil {
			mt.Fatalf("InsertDonation: %v", err)
		}
		if _, err := primitive.ObjectIDFromHex(id); err != nil || d.ID != id {
			mt.Fatalf("id = %q, donation id = %q", id, d.ID)
		}
	})

	mt.Run("list decodes newest first", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + donationsCollection
		created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: oid},
			{Key: "name", Value: "Ravi"},
			{Key: "mode", Value: models.ModeBundles},
			{Key: "bundles", Value: int32(2)},
			{Key: "total", Value: 2002.0},
			{Key: "visibility", Value: models.VisibilityPublic},
			{Key: "status", Value: models.StatusNew},
			{Key: "createdAt", Value: created},
		}))
		got, err := newMockMongoStore(mt).ListDonations(ctx, ListFilter{Visibility: models.VisibilityPublic, Limit: 5})
		if err != nil {
			mt.Fatalf("ListDonations: %v", err)
		}
		if len(got) != 1 || got[0].ID != oid.Hex() || got[0].Bundles == nil || *got[0].Bundles != 2 || got[0].Total != 2002 {
			mt.Fatalf("listed = %+v", got)
		}
		if !got[0].CreatedAt.Equal(created) {
			mt.Fatalf("createdAt = %v", got[0].CreatedAt)
		}
		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "find" {
			mt.Fatalf("started = %v", evt)
		}
		if v, err := evt.Command.LookupErr("filter", "visibility"); err != nil || v.StringValue() != models.VisibilityPublic {
			mt.Fatalf("find filter = %v", evt.Command)
		}
	})

	mt.Run("update status returns updated record", func(mt *mtest.T) {
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: oid},
			{Key: "name", Value: "Asha"},
			{Key: "status", Value: models.StatusRead},
		}}))
		d, err := newMockMongoStore(mt).UpdateDonationStatus(ctx, oid.Hex(), models.StatusRead)
		if err != nil {
			mt.Fatalf("UpdateDonationStatus: %v", err)
		}
		if d.ID != oid.Hex() || d.Status != models.StatusRead {
			mt.Fatalf("updated = %+v", d)
		}
	})

	mt.Run("update status of missing id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))
		_, err := newMockMongoStore(mt).UpdateDonationStatus(ctx, primitive.NewObjectID().Hex(), models.StatusRead)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			mt.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	mt.Run("update status of malformed id sends nothing", func(mt *mtest.T) {
		_, err := newMockMongoStore(mt).UpdateDonationStatus(ctx, "not-an-object-id", models.StatusRead)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			mt.Fatalf("expected NotFoundError, got %v", err)
		}
		if events := mt.GetAllStartedEvents(); len(events) != 0 {
			mt.Fatalf("sent %d commands for a malformed id", len(events))
		}
	})

	mt.Run("delete of missing id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(0)}))
		err := newMockMongoStore(mt).DeleteDonation(ctx, primitive.NewObjectID().Hex())
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			mt.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	mt.Run("delete of malformed id sends nothing", func(mt *mtest.T) {
		err := newMockMongoStore(mt).DeleteDonation(ctx, "42")
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			mt.Fatalf("expected NotFoundError, got %v", err)
		}
		if events := mt.GetAllStartedEvents(); len(events) != 0 {
			mt.Fatalf("sent %d commands for a malformed id", len(events))
		}
	})

	mt.Run("delete existing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(1)}))
		if err := newMockMongoStore(mt).DeleteDonation(ctx, primitive.NewObjectID().Hex()); err != nil {
			mt.Fatalf("DeleteDonation: %v", err)
		}
	})

	mt.Run("totals decode", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + donationsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: int32(3)},
			{Key: "funds", Value: 3503.5},
			{Key: "bundles", Value: int32(3)},
		}))
		totals, err := newMockMongoStore(mt).DonationTotals(ctx)
		if err != nil {
			mt.Fatalf("DonationTotals: %v", err)
		}
		if totals.Count != 3 || totals.Funds != 3503.5 || totals.Bundles != 3 {
			mt.Fatalf("totals = %+v", totals)
		}
	})

	mt.Run("totals of empty collection", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + donationsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		totals, err := newMockMongoStore(mt).DonationTotals(ctx)
		if err != nil {
			mt.Fatalf("DonationTotals: %v", err)
		}
		if totals != (models.DonationTotals{}) {
			mt.Fatalf("totals = %+v", totals)
		}
	})

	mt.Run("get missing setting", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + settingsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		_, err := newMockMongoStore(mt).GetSetting(ctx, models.GPaySettingKey)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			mt.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	mt.Run("get setting", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + settingsCollection
		updated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: models.GPaySettingKey},
			{Key: "amount", Value: 4500.5},
			{Key: "updatedAt", Value: updated},
		}))
		s, err := newMockMongoStore(mt).GetSetting(ctx, models.GPaySettingKey)
		if err != nil {
			mt.Fatalf("GetSetting: %v", err)
		}
		if s.Key != models.GPaySettingKey || s.Amount != 4500.5 || !s.UpdatedAt.Equal(updated) {
			mt.Fatalf("setting = %+v", s)
		}
	})

	mt.Run("upsert setting", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: int32(1)},
			bson.E{Key: "nModified", Value: int32(0)},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: int32(0)}, {Key: "_id", Value: models.GPaySettingKey}}}},
		))
		store := newMockMongoStore(mt)
		fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return fixed }

		s, err := store.UpsertSetting(ctx, models.GPaySettingKey, 1200)
		if err != nil {
			mt.Fatalf("UpsertSetting: %v", err)
		}
		if s.Amount != 1200 || !s.UpdatedAt.Equal(fixed) {
			mt.Fatalf("setting = %+v", s)
		}
		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "update" {
			mt.Fatalf("started = %v", evt)
		}
		if v, err := evt.Command.LookupErr("updates", "0", "upsert"); err != nil || !v.Boolean() {
			mt.Fatalf("update was not an upsert: %v", evt.Command)
		}
	})
}
