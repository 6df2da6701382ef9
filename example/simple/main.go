package main

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	datasource "github.com/swantzter/datasource-gorm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// User is a regular gorm entity: one primary key field and an optional
// soft delete timestamp.
type User struct {
	ID        uint `gorm:"primaryKey"`
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func main() {
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Count every SELECT so the batching is visible in the output.
	var selects atomic.Int64
	if err := db.Callback().Query().After("gorm:query").Register("example:count", func(*gorm.DB) {
		selects.Add(1)
	}); err != nil {
		log.Fatalf("register callback: %v", err)
	}

	users, err := datasource.NewBuilder[User, uint](db).
		WithBatchWait(time.Millisecond).
		Build()
	if err != nil {
		log.Fatalf("build data source: %v", err)
	}
	// An explicit initialization step supplies the external cache; with
	// no cache given, an in-process LRU is used.
	users.Initialize(datasource.InitializeConfig{})

	alice, err := users.CreateOne(ctx, &User{Email: "alice@example.com", Name: "Alice"}, datasource.WithTTL(time.Minute))
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	bob, err := users.CreateOne(ctx, &User{Email: "bob@example.com", Name: "Bob"})
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	log.Printf("created %s (id=%d) and %s (id=%d)", alice.Name, alice.ID, bob.Name, bob.ID)

	// Concurrent lookups land in one batch: drop the memo first so the
	// loader actually has to fetch.
	users.ClearLoader()
	before := selects.Load()

	var wg sync.WaitGroup
	for _, id := range []uint{alice.ID, bob.ID, alice.ID, 999} {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			u, err := users.FindOneByID(ctx, id)
			if err != nil {
				log.Printf("id %d: %v", id, err)
				return
			}
			log.Printf("id %d: %s", id, u.Email)
		}(id)
	}
	wg.Wait()
	log.Printf("4 concurrent lookups took %d SELECT(s)", selects.Load()-before)

	// A soft delete keeps the row in the store but evicts it here.
	if err := users.DeleteOne(ctx, bob.ID); err != nil {
		log.Fatalf("delete: %v", err)
	}
	if _, err := users.FindOneByID(ctx, bob.ID); err != nil {
		log.Printf("after soft delete, id %d: %v", bob.ID, err)
	}
}
