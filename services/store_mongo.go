package services

import (
	"context"
	"errors"
	"time"

	"github.com/librarydrive/donation-desk/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	donationsCollection = "donations"
	settingsCollection  = "settings"
)

// donationDocument is the bson shape of a donation.
type donationDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Name       string             `bson:"name"`
	Email      string             `bson:"email"`
	Phone      string             `bson:"phone"`
	Message    string             `bson:"message"`
	Mode       string             `bson:"mode"`
	Bundles    *int               `bson:"bundles,omitempty"`
	Total      float64            `bson:"total"`
	Visibility string             `bson:"visibility"`
	Status     string             `bson:"status"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

type settingDocument struct {
	Key       string    `bson:"_id"`
	Amount    float64   `bson:"amount"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func toDonationDocument(d *models.Donation) donationDocument {
	return donationDocument{
		Name:       d.Name,
		Email:      d.Email,
		Phone:      d.Phone,
		Message:    d.Message,
		Mode:       d.Mode,
		Bundles:    d.Bundles,
		Total:      d.Total,
		Visibility: d.Visibility,
		Status:     d.Status,
		CreatedAt:  d.CreatedAt,
	}
}

func (doc donationDocument) model() models.Donation {
	return models.Donation{
		ID:         doc.ID.Hex(),
		Name:       doc.Name,
		Email:      doc.Email,
		Phone:      doc.Phone,
		Message:    doc.Message,
		Mode:       doc.Mode,
		Bundles:    doc.Bundles,
		Total:      doc.Total,
		Visibility: doc.Visibility,
		Status:     doc.Status,
		CreatedAt:  doc.CreatedAt.UTC(),
	}
}

// MongoStore keeps donations and settings in MongoDB collections.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(database), now: time.Now}
}

// EnsureIndexes creates the listing indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(donationsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "visibility", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return &StoreUnavailableError{Op: "ensure indexes", Err: err}
	}
	return nil
}

func (s *MongoStore) InsertDonation(ctx context.Context, d *models.Donation) (string, error) {
	result, err := s.db.Collection(donationsCollection).InsertOne(ctx, toDonationDocument(d))
	if err != nil {
		return "", &StoreUnavailableError{Op: "insert donation", Err: err}
	}
	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", &StoreUnavailableError{Op: "insert donation", Err: errors.New("unexpected inserted id type")}
	}
	d.ID = oid.Hex()
	return d.ID, nil
}

// listQuery builds the filter and options for a donation listing.
func listQuery(filter ListFilter) (bson.M, *options.FindOptions) {
	query := bson.M{}
	if filter.Visibility != "" {
		query["visibility"] = filter.Visibility
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return query, opts
}

func (s *MongoStore) ListDonations(ctx context.Context, filter ListFilter) ([]models.Donation, error) {
	query, opts := listQuery(filter)
	cursor, err := s.db.Collection(donationsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "list donations", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []donationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &StoreUnavailableError{Op: "list donations", Err: err}
	}
	donations := make([]models.Donation, 0, len(docs))
	for _, doc := range docs {
		donations = append(donations, doc.model())
	}
	return donations, nil
}

// UpdateDonationStatus is a single findOneAndUpdate; an unknown id matches
// nothing and writes nothing.
func (s *MongoStore) UpdateDonationStatus(ctx context.Context, id, status string) (*models.Donation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, &NotFoundError{Resource: "donation", ID: id}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc donationDocument
	err = s.db.Collection(donationsCollection).
		FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"status": status}}, opts).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &NotFoundError{Resource: "donation", ID: id}
	}
	if err != nil {
		return nil, &StoreUnavailableError{Op: "update donation status", Err: err}
	}
	donation := doc.model()
	return &donation, nil
}

func (s *MongoStore) DeleteDonation(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return &NotFoundError{Resource: "donation", ID: id}
	}
	result, err := s.db.Collection(donationsCollection).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return &StoreUnavailableError{Op: "delete donation", Err: err}
	}
	if result.DeletedCount == 0 {
		return &NotFoundError{Resource: "donation", ID: id}
	}
	return nil
}

func (s *MongoStore) DonationTotals(ctx context.Context) (models.DonationTotals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "funds", Value: bson.D{{Key: "$sum", Value: "$total"}}},
			{Key: "bundles", Value: bson.D{{Key: "$sum", Value: "$bundles"}}},
		}}},
	}
	cursor, err := s.db.Collection(donationsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return models.DonationTotals{}, &StoreUnavailableError{Op: "donation totals", Err: err}
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Count   int64   `bson:"count"`
		Funds   float64 `bson:"funds"`
		Bundles int64   `bson:"bundles"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.DonationTotals{}, &StoreUnavailableError{Op: "donation totals", Err: err}
	}
	if len(rows) == 0 {
		return models.DonationTotals{}, nil
	}
	return models.DonationTotals{Count: rows[0].Count, Funds: rows[0].Funds, Bundles: rows[0].Bundles}, nil
}

func (s *MongoStore) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var doc settingDocument
	err := s.db.Collection(settingsCollection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &NotFoundError{Resource: "setting", ID: key}
	}
	if err != nil {
		return nil, &StoreUnavailableError{Op: "get setting", Err: err}
	}
	return &models.Setting{Key: doc.Key, Amount: doc.Amount, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}

func (s *MongoStore) UpsertSetting(ctx context.Context, key string, amount float64) (*models.Setting, error) {
	updatedAt := s.now().UTC()
	_, err := s.db.Collection(settingsCollection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"amount": amount, "updatedAt": updatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "upsert setting", Err: err}
	}
	return &models.Setting{Key: key, Amount: amount, UpdatedAt: updatedAt}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
