package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/mickamy/auditry"
	"github.com/mickamy/auditry/uow"
)

type Order struct {
	auditry.Audited
	ID         int64
	CustomerID string
	Amount     float64
	Status     string
}

func (o *Order) PrimaryKey() (string, any) { return "id", o.ID }

func (o *Order) Columns() ([]string, []any) {
	return []string{"customer_id", "amount", "status"}, []any{o.CustomerID, o.Amount, o.Status}
}

type orderStrategy struct{}

func (orderStrategy) TableName() string { return "Orders" }

func (orderStrategy) EntityID(o *Order) string {
	if o == nil {
		return ""
	}
	return strconv.FormatInt(o.ID, 10)
}

func (orderStrategy) ExtractFields(o *Order) auditry.Fields {
	if o == nil {
		return auditry.Fields{}
	}
	return auditry.Fields{
		"Id":         o.ID,
		"CustomerId": o.CustomerID,
		"Amount":     o.Amount,
		"Status":     o.Status,
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("Could not load .env file.")
	}

	cfg, err := auditry.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	if cfg.DatabaseURL == "" {
		cfg.Driver = auditry.DriverSQLite
		cfg.DatabaseURL = "file:demo.db?_busy_timeout=5000"
	}

	db, err := sql.Open(cfg.Driver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer func(db *sql.DB) {
		_ = db.Close()
	}(db)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS orders (
	id BIGINT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL
)`); err != nil {
		log.WithError(err).Fatal("Failed to create orders table")
	}

	metrics := auditry.NewMetrics(prometheus.DefaultRegisterer)
	var writer auditry.Writer = auditry.NewSQLWriter(cfg, auditry.WithDB(db), auditry.WithWriterMetrics(metrics))
	if cfg.Kafka.Enabled() {
		kw, err := auditry.NewKafkaWriter(cfg.Kafka, log.StandardLogger(), metrics)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Kafka writer")
		}
		defer kw.Close()
		writer = auditry.MultiWriter(writer, kw)
	}
	registry := auditry.MustRegistry(auditry.Register[Order](orderStrategy{}))
	auditor := auditry.New(registry, writer, auditry.WithMetrics(metrics), auditry.WithSystemActor(cfg.SystemActor))

	session := uow.New(db, uow.WithInterceptors(auditor))
	ctx = auditry.WithActor(ctx, "demo-user")

	id := int64(os.Getpid())
	order := &Order{ID: id, CustomerID: "c-42", Amount: 1200, Status: "new"}
	must(session.Add(order))
	mustSave(ctx, session)

	order.Status, order.Amount = "paid", 1500
	must(session.Update(order))
	mustSave(ctx, session)

	must(session.Remove(order))
	mustSave(ctx, session)

	auditor.Close()

	reader, err := auditry.NewReader(db, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create reader")
	}
	page, err := reader.Search(ctx, auditry.Filter{TableName: "Orders", EntityID: strconv.FormatInt(id, 10), Ascending: true})
	if err != nil {
		log.WithError(err).Fatal("Failed to read audit log")
	}
	for _, e := range page.Entries {
		fmt.Printf("#%d %s by %s: %v -> %v\n", e.ID, e.Operation, e.UserID, e.OldValues, e.NewValues)
	}
	fmt.Printf("audit rows = %d (expected 3)\n", page.TotalCount)
}

func must(err error) {
	if err != nil {
		log.WithError(err).Fatal("Failed to track order")
	}
}

func mustSave(ctx context.Context, s *uow.Session) {
	if _, err := s.SaveChanges(ctx); err != nil {
		log.WithError(err).Fatal("Failed to save changes")
	}
}
