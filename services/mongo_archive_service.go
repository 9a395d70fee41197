package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"metals_scanner/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names
const (
	MongoDBName             = "metals_scanner"
	MongoScanRunsCollection = "scan_runs"
)

// ScanArchiveClient keeps a long-term record of completed scan runs and
// their best deals in MongoDB. The archive is optional; when MONGODB_URI is
// not configured every operation is a no-op.
type ScanArchiveClient struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	lastError   string
}

// MongoScanRun is the archived form of a scan run
type MongoScanRun struct {
	RunID         uint        `bson:"run_id"`
	StartedAt     time.Time   `bson:"started_at"`
	FinishedAt    *time.Time  `bson:"finished_at"`
	ListingsFound int         `bson:"listings_found"`
	DealsFound    int         `bson:"deals_found"`
	Errors        []string    `bson:"errors"`
	TopDeals      []MongoDeal `bson:"top_deals,omitempty"`
	ArchivedAt    time.Time   `bson:"archived_at"`
}

// MongoDeal is one archived deal snapshot
type MongoDeal struct {
	Source           string `bson:"source"`
	ExternalID       string `bson:"external_id"`
	Title            string `bson:"title"`
	MetalType        string `bson:"metal_type"`
	Price            string `bson:"price"`
	WeightOz         string `bson:"weight_oz"`
	SpreadPercentage string `bson:"spread_percentage"`
	URL              string `bson:"url"`
}

// Global scan archive instance
var GlobalScanArchive *ScanArchiveClient

// InitScanArchive initializes the archive when a Mongo URI is configured.
func InitScanArchive(mongoURI string) error {
	if mongoURI == "" {
		log.Println("MONGODB_URI not set, scan archive disabled")
		GlobalScanArchive = &ScanArchiveClient{
			lastError: "MONGODB_URI environment variable not set",
		}
		return nil
	}

	GlobalScanArchive = &ScanArchiveClient{}
	return GlobalScanArchive.connect(mongoURI)
}

// connect establishes the MongoDB connection
func (a *ScanArchiveClient) connect(mongoURI string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(mongoURI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		a.lastError = fmt.Sprintf("Failed to connect: %v", err)
		log.Printf("Failed to connect to MongoDB: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		a.lastError = fmt.Sprintf("Failed to ping: %v", err)
		log.Printf("Failed to ping MongoDB: %v", err)
		client.Disconnect(ctx)
		return err
	}

	a.mu.Lock()
	a.client = client
	a.database = client.Database(MongoDBName)
	a.isConnected = true
	a.lastError = ""
	a.mu.Unlock()

	log.Println("MongoDB scan archive connected successfully")
	return nil
}

// IsConnected reports whether the archive is usable.
func (a *ScanArchiveClient) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

// Close disconnects from MongoDB.
func (a *ScanArchiveClient) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.client.Disconnect(ctx)
		a.isConnected = false
	}
}

// ArchiveScanRun stores a completed run with its best deals. Failures are
// logged; the archive never fails a scan.
func (a *ScanArchiveClient) ArchiveScanRun(run *models.ScanRun, topDeals []models.Listing) {
	if !a.IsConnected() {
		return
	}

	doc := MongoScanRun{
		RunID:         run.ID,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		ListingsFound: run.ListingsFound,
		DealsFound:    run.DealsFound,
		Errors:        run.Errors,
		ArchivedAt:    time.Now().UTC(),
	}
	for _, deal := range topDeals {
		md := MongoDeal{
			Source:     deal.Source,
			ExternalID: deal.ExternalID,
			Title:      deal.Title,
			MetalType:  deal.MetalType,
			Price:      deal.Price.StringFixed(2),
			URL:        deal.URL,
		}
		if deal.WeightOz.Valid {
			md.WeightOz = deal.WeightOz.Decimal.String()
		}
		if deal.SpreadPercentage.Valid {
			md.SpreadPercentage = deal.SpreadPercentage.Decimal.StringFixed(2)
		}
		doc.TopDeals = append(doc.TopDeals, md)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll := a.database.Collection(MongoScanRunsCollection)
	filter := bson.M{"run_id": run.ID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	if _, err := coll.UpdateOne(ctx, filter, update, opts); err != nil {
		log.Printf("Failed to archive scan run %d: %v", run.ID, err)
		return
	}
	log.Printf("Archived scan run %d to MongoDB", run.ID)
}

// ArchiveCompletedRun is a nil-safe helper.
func ArchiveCompletedRun(run *models.ScanRun, topDeals []models.Listing) {
	if GlobalScanArchive == nil {
		return
	}
	GlobalScanArchive.ArchiveScanRun(run, topDeals)
}
